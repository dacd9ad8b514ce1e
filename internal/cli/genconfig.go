package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Numdrassl/proxy/internal/config"
	"github.com/Numdrassl/proxy/internal/tools"
)

// GenConfig writes a minimal starter config file and validates it.
func GenConfig() *cobra.Command {
	var outputConfigFile string
	cmd := &cobra.Command{
		Use:   "genconfig",
		Short: "Generate a starter configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			genConfig(cmd, outputConfigFile)
		},
	}
	cmd.Flags().StringVarP(&outputConfigFile, "config", "c", "config.yaml", "path to output config file")
	return cmd
}

func genConfig(cmd *cobra.Command, outputConfigFile string) {
	if err := tools.GenerateConfig(outputConfigFile); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	cfg, _, err := config.GetConfig(cmd, outputConfigFile)
	if err != nil {
		_ = os.Remove(outputConfigFile)
		fmt.Printf("error getting config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		_ = os.Remove(outputConfigFile)
		fmt.Printf("error validating config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", outputConfigFile)
}
