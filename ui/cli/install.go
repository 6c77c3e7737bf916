// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toeirei/pairmaster/internal/bootstrap"
	"github.com/toeirei/pairmaster/internal/engine"
	"github.com/toeirei/pairmaster/internal/i18n"
)

func newInstallCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "install <device>",
		Short: "Install the companion app on a USB device",
		Long: `Pushes the companion app package to a USB-attached device and starts it.
When the device refuses the install, its browser is opened on a download
page so the install can be finished by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := startRuntime(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Stop() }()

			entry, err := waitForDevice(ctx, rt.eng, args[0], wait)
			if err != nil {
				return err
			}
			if err := rt.eng.InstallApp(ctx, entry.Key); err != nil {
				var ie *bootstrap.InstallError
				if errors.As(err, &ie) {
					// The bridge text is shown as is; it is often the only hint.
					return fmt.Errorf("%s\n%s", ie.Message, engine.Remedy(err))
				}
				return fmt.Errorf("%w\n%s", err, engine.Remedy(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.install.done"))
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "How long to wait for the device to show up")
	return cmd
}
