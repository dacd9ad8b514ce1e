package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Numdrassl/proxy/internal/config"
)

// CheckConfig loads and validates a config file without starting the proxy.
func CheckConfig() *cobra.Command {
	var checkConfigFile string
	cmd := &cobra.Command{
		Use:   "checkconfig",
		Short: "Check the proxy configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			checkConfig(cmd, checkConfigFile)
		},
	}
	cmd.Flags().StringVarP(&checkConfigFile, "config", "c", "config.yaml", "path to config file to check")
	return cmd
}

func checkConfig(cmd *cobra.Command, configFile string) {
	cfg, meta, err := config.GetConfig(cmd, configFile)
	if err != nil {
		fmt.Printf("error getting config: %v\n", err)
		os.Exit(1)
	}
	if meta.FileNotFound {
		fmt.Println("config file not found")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("error validating config: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}
