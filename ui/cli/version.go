// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/toeirei/pairmaster/buildvars"
)

const modulePath = "github.com/toeirei/pairmaster"

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

// buildInfo is what `pairmaster version` reports.
type buildInfo struct {
	Version string
	Commit  string
	Date    string
}

// String renders the one-line form used by --version.
func (b buildInfo) String() string {
	s := b.Version
	if b.Commit != "" && b.Commit != "dev" && b.Commit != b.Version {
		s += " (" + b.Commit + ")"
	}
	if b.Date != "" {
		s += " built: " + b.Date
	}
	return s
}

// readBuildInfo merges linker variables with the module build info. A nil
// info reads the running binary's.
func readBuildInfo(info *debug.BuildInfo) buildInfo {
	b := buildInfo{
		Version: buildvars.VersionOrDefault(version),
		Commit:  gitCommit,
		Date:    buildDate,
	}
	if info == nil {
		info, _ = debug.ReadBuildInfo()
	}
	if info != nil {
		b.applyModule(info)
	}
	if b.Version == "dev" && gitCommit != "dev" && gitCommit != "" {
		b.Version = gitCommit
	}
	return b
}

func (b *buildInfo) applyModule(info *debug.BuildInfo) {
	if v := info.Main.Version; v != "" && v != "(devel)" {
		b.Version = v
	}
	if b.Version == "dev" || b.Version == "(devel)" {
		// Built as a dependency of another module.
		for _, dep := range info.Deps {
			if dep.Path == modulePath && dep.Version != "" {
				b.Version = dep.Version
				break
			}
		}
	}
	for _, s := range info.Settings {
		if s.Value == "" {
			continue
		}
		switch s.Key {
		case "vcs.revision":
			b.Commit = s.Value
		case "vcs.time":
			b.Date = s.Value
		}
	}
}

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		// No config or trust store needed.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			b := readBuildInfo(nil)
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, b.Version)
				return
			}
			fmt.Fprintf(out, "version: %s\n", b.Version)
			fmt.Fprintf(out, "commit: %s\n", b.Commit)
			if b.Date != "" {
				fmt.Fprintf(out, "built: %s\n", b.Date)
			}
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version")
	return cmd
}
