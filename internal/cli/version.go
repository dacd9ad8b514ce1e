package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Numdrassl/proxy/internal/build"
)

// Version prints the proxy binary's build version and Go runtime version.
func Version() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Numdrassl proxy version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Numdrassl proxy v%s (Go version: %s)\n", build.Version, runtime.Version())
		},
	}
}
