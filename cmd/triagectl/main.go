// Command triagectl is the operator CLI for TriageDesk: process single
// tickets, run an interactive session or a batch stress run, and inspect
// the memory bank and knowledge base.
package main

import (
	"os"
)

func main() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
