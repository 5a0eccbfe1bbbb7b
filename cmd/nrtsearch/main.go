// Package main provides the entry point for the nrtsearch CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/nrtsearch/cmd/nrtsearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
