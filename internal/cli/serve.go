package cli

import "github.com/spf13/cobra"

// Serve is an explicit alias for the root command's default action,
// grounded on the teacher's practice of also exposing its default
// behavior as a named subcommand for scripting clarity.
func Serve(run RunFunc) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy",
		Long:  "Start the Numdrassl proxy core: client listener, backend dialer, and cluster coordination",
		Run: func(cmd *cobra.Command, args []string) {
			run(cmd, configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "path to config file")
	return cmd
}
