// Package main is the entry point for the recodarr application.
package main

import (
	"os"

	"github.com/jmylchreest/recodarr/cmd/recodarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
