// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Pairmaster.
//
// Usage:
//
//	go run . [command] [flags]
//	./pairmaster [command] [flags]
//
// See --help for the available commands.
package main

import (
	"os"

	log "github.com/charmbracelet/log"

	"github.com/toeirei/pairmaster/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
