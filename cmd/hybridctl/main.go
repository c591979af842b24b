// Command hybridctl operates the hybrid cryptographic core from the command
// line: health checks, bulk migration, rollback, and circuit recovery.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
