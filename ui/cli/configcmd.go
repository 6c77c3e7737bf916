// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toeirei/pairmaster/internal/config"
)

func newConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write the configuration file",
	}

	var system bool
	writeCmd := &cobra.Command{
		Use:   "write",
		Short: "Write the effective configuration to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteConfigFile(&appConfig, system); err != nil {
				return err
			}
			path, _ := config.GetConfigPath(system)
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	writeCmd.Flags().BoolVar(&system, "system", false, "Write the system-wide file instead of the user file")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the user config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.GetConfigPath(system)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	pathCmd.Flags().BoolVar(&system, "system", false, "Print the system-wide location")

	cfgCmd.AddCommand(writeCmd, pathCmd)
	return cfgCmd
}
