// Command libsync is the offline-first library sync client.
package main

import (
	"os"

	"github.com/kilupskalvis/libsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
