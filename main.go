// Command numdrassld runs the Numdrassl QUIC game-traffic proxy.
package main

import (
	"os"

	"github.com/Numdrassl/proxy/internal/app"
	"github.com/Numdrassl/proxy/internal/cli"
)

func main() {
	if err := cli.Root(app.Run).Execute(); err != nil {
		os.Exit(1)
	}
}
