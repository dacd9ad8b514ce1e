// Package cli assembles the proxy's cobra command tree: bare invocation
// (or the explicit "serve" subcommand) runs the proxy core, alongside
// "version", "checkconfig", and "genconfig" utility commands.
//
// Grounded on the teacher's internal/cli package: one file per
// subcommand, each building a *cobra.Command with its own local flag
// vars, composed onto a root command built in internal/app (this
// package's Root plays the role of the teacher's app.Centrifugo()).
package cli

import (
	"github.com/spf13/cobra"
)

// RunFunc starts the proxy core for the given config file and blocks
// until shutdown. internal/app.Run satisfies this; kept as an injected
// function here (rather than an import) so this package never imports
// internal/app, matching the teacher's own layering where internal/cli
// commands are thin and internal/app owns the actual run loop.
type RunFunc func(cmd *cobra.Command, configFile string)

// Root builds the top-level command. Bare invocation runs the proxy,
// same as the explicit "serve" subcommand.
func Root(run RunFunc) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "numdrassld",
		Short: "Numdrassl proxy",
		Long:  "Numdrassl - a QUIC game traffic proxy with backend transfer and cluster coordination",
		Run: func(cmd *cobra.Command, args []string) {
			run(cmd, configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "path to config file")
	cmd.PersistentFlags().String("listener.bind_host", "", "override listener.bind_host")
	cmd.PersistentFlags().Int("listener.bind_port", 0, "override listener.bind_port")
	cmd.PersistentFlags().String("log.level", "", "override log.level")
	cmd.PersistentFlags().String("log.file", "", "override log.file")
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	cmd.AddCommand(Serve(run))
	cmd.AddCommand(Version())
	cmd.AddCommand(CheckConfig())
	cmd.AddCommand(GenConfig())
	return cmd
}
