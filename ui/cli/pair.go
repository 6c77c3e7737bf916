// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	log "github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/toeirei/pairmaster/internal/crypto/thumbprint"
	"github.com/toeirei/pairmaster/internal/engine"
	"github.com/toeirei/pairmaster/internal/i18n"
	"github.com/toeirei/pairmaster/internal/pairing"
)

var errPairingCancelled = errors.New("pairing cancelled")

// pairingDriver is the part of the engine the pair command drives.
type pairingDriver interface {
	Events() <-chan pairing.Event
	ConfirmFingerprintMatch(ctx context.Context, id uuid.UUID) error
	ConfirmKeyChange(ctx context.Context, id uuid.UUID) error
	CancelPairing(ctx context.Context, id uuid.UUID) error
}

type pairOptions struct {
	copy bool
	qr   bool
}

func newPairCmd() *cobra.Command {
	var opts pairOptions
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "pair <device>",
		Short: "Pair with a device after comparing thumbprints",
		Long: `Starts pairing with a device listed by 'pairmaster devices'. The device
is addressed by its key, a unique key prefix or its name. Both sides show
the same pair of thumbprints; confirm only if they match. There is no
non-interactive confirmation. Devices that were paired before reconnect
without confirmation.`,
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
			id, err := rt.eng.StartPairing(ctx, entry.Key)
			if err != nil {
				return fmt.Errorf("%w\n%s", err, engine.Remedy(err))
			}
			opts.qr = opts.qr && stdoutWide()
			return drivePairing(ctx, rt.eng, id, os.Stdin, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "Copy the device fingerprint to the clipboard")
	cmd.Flags().BoolVar(&opts.qr, "qr", true, "Show the device fingerprint as a QR code")
	cmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "How long to wait for the device to show up")
	return cmd
}

func stdoutWide() bool {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return false
	}
	w, _, err := term.GetSize(fd)
	return err == nil && w >= 60
}

// drivePairing follows the events of one session until it settles,
// asking the operator whenever the session waits for confirmation.
func drivePairing(ctx context.Context, d pairingDriver, id uuid.UUID, in io.Reader, out io.Writer, opts pairOptions) error {
	reader := bufio.NewReader(in)
	for {
		var ev pairing.Event
		select {
		case <-ctx.Done():
			_ = d.CancelPairing(context.Background(), id)
			return ctx.Err()
		case ev = <-d.Events():
		}
		if ev.Session != id {
			continue
		}
		log.Debug("pairing", "state", ev.State, "session", ev.Session)

		switch ev.State {
		case pairing.StateAwaitingPeerKey, pairing.StateConfirmed:
			fmt.Fprintf(out, "%s...\n", stateLabel(ev.State))
		case pairing.StateAwaitingUserConfirmation:
			printFingerprints(out, ev, opts)
			prompt := i18n.T("cli.pair.confirm_prompt")
			confirm := d.ConfirmFingerprintMatch
			if ev.KeyChanged {
				fmt.Fprintln(out, i18n.T("remedy.pairing.key_changed"))
				prompt = i18n.T("cli.pair.key_change_prompt")
				confirm = d.ConfirmKeyChange
			}
			if !ask(reader, out, prompt) {
				_ = d.CancelPairing(ctx, id)
				fmt.Fprintln(out, i18n.T("cli.pair.cancelled"))
				return errPairingCancelled
			}
			if err := confirm(ctx, id); err != nil {
				return fmt.Errorf("%w\n%s", err, engine.Remedy(err))
			}
		case pairing.StatePaired:
			name := ev.PeerName
			if name == "" {
				name = string(ev.Identity)
			}
			if ev.FastPath {
				fmt.Fprintln(out, i18n.T("cli.pair.reconnected", name))
			} else {
				fmt.Fprintln(out, i18n.T("cli.pair.paired", name))
			}
			return nil
		case pairing.StateFailed:
			return fmt.Errorf("%w\n%s", ev.Err, engine.Remedy(ev.Err))
		case pairing.StateAbandoned:
			return errPairingCancelled
		}
	}
}

func stateLabel(s pairing.State) string {
	return i18n.T("state." + s.String())
}

func printFingerprints(out io.Writer, ev pairing.Event, opts pairOptions) {
	fmt.Fprintln(out, i18n.T("cli.pair.compare"))
	fmt.Fprintf(out, "  %s:\n    %s\n    %s\n", i18n.T("cli.pair.local"), ev.LocalFingerprints.SHA256, ev.LocalFingerprints.MD5)
	fmt.Fprintf(out, "  %s:\n    %s\n    %s\n", i18n.T("cli.pair.peer"), ev.PeerFingerprints.SHA256, ev.PeerFingerprints.MD5)
	if opts.qr {
		if qr, err := thumbprint.TerminalQR(ev.PeerFingerprints.SHA256); err == nil {
			fmt.Fprintln(out, qr)
		}
	}
	if opts.copy {
		if err := clipboard.WriteAll(ev.PeerFingerprints.SHA256); err != nil {
			log.Warnf("clipboard: %v", err)
		} else {
			fmt.Fprintln(out, i18n.T("cli.copied"))
		}
	}
}

// ask reads a yes/no answer. Anything but y or yes is a no, including a
// closed input.
func ask(r *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
