// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toeirei/pairmaster/internal/i18n"
	"github.com/toeirei/pairmaster/internal/model"
)

func newBlacklistCmd() *cobra.Command {
	blCmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Block devices from pairing",
	}

	var reason string
	addCmd := &cobra.Command{
		Use:   "add <identity>",
		Short: "Block a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := managementEngine()
			defer func() { _ = eng.Close() }()
			id := model.DeviceIdentity(args[0])
			if err := eng.Blacklist(cmd.Context(), id, reason); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.blacklist.added", id))
			return nil
		},
	}
	addCmd.Flags().StringVar(&reason, "reason", "", "Why the device is blocked")

	removeCmd := &cobra.Command{
		Use:   "remove <identity>",
		Short: "Unblock a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := managementEngine()
			defer func() { _ = eng.Close() }()
			id := model.DeviceIdentity(args[0])
			if err := eng.Unblacklist(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.blacklist.removed", id))
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List blocked devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := store.ListBlacklist(cmd.Context())
			if err != nil {
				return err
			}
			for _, b := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", b.Identity, b.CreatedAt.Format(time.RFC3339), b.Reason)
			}
			return nil
		},
	}

	blCmd.AddCommand(addCmd, removeCmd, listCmd)
	return blCmd
}
