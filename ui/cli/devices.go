// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/toeirei/pairmaster/internal/i18n"
	"github.com/toeirei/pairmaster/internal/model"
)

var (
	statusStyles = map[model.Status]lipgloss.Style{
		model.StatusOnline:             lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		model.StatusOffline:            lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		model.StatusNotPaired:          lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		model.StatusNeedsPairing:       lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		model.StatusNeedsAuthorization: lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		model.StatusBlacklisted:        lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		model.StatusAppNotInstalled:    lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
	}
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	keyStyle    = lipgloss.NewStyle().Width(40)
	nameStyle   = lipgloss.NewStyle().Width(20)
	statusCol   = lipgloss.NewStyle().Width(22)
)

func statusLabel(s model.Status) string {
	label := i18n.T("status." + string(s))
	if st, ok := statusStyles[s]; ok {
		return st.Render(label)
	}
	return label
}

func transportsOf(e model.RegistryEntry) string {
	var parts []string
	for _, r := range e.Reachability {
		parts = append(parts, fmt.Sprintf("%s(%s)", r.Transport, r.Address))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// renderDevices prints one line per registry entry.
func renderDevices(w io.Writer, entries []model.RegistryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, i18n.T("cli.devices.none"))
		return
	}
	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
		keyStyle.Render(headerStyle.Render("KEY")),
		nameStyle.Render(headerStyle.Render("NAME")),
		statusCol.Render(headerStyle.Render("STATUS")),
		headerStyle.Render("REACHABLE VIA"),
	))
	for _, e := range entries {
		key := e.Key
		if len(key) > 38 {
			key = key[:38]
		}
		fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
			keyStyle.Render(key),
			nameStyle.Render(e.Name),
			statusCol.Render(statusLabel(e.Status)),
			transportsOf(e),
		))
	}
}

func newDevicesCmd() *cobra.Command {
	var scanFor time.Duration
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List companion devices and their status",
		Long: `Runs discovery for a short while and lists every device found over USB,
the local network or Bluetooth, together with trusted devices that are
currently offline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := startRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Stop() }()

			select {
			case <-cmd.Context().Done():
			case <-time.After(scanFor):
			}
			renderDevices(cmd.OutOrStdout(), rt.eng.Current())
			return nil
		},
	}
	cmd.Flags().DurationVar(&scanFor, "scan", 5*time.Second, "How long to scan before listing")
	return cmd
}
