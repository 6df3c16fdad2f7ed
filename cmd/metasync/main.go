// Command metasync manages metadata entities across a local store and a
// remote metadata catalog: reconciled status views, deploy/pull/resync
// actions, git-based staging, and a live view server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
