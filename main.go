// Engram - persistent memory for coding agents
// Graph-linked local memory store with hybrid semantic/keyword search
package main

import (
	"fmt"
	"os"

	"github.com/engramdev/engram/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
