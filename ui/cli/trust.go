// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/toeirei/pairmaster/internal/db"
	"github.com/toeirei/pairmaster/internal/engine"
	"github.com/toeirei/pairmaster/internal/i18n"
	"github.com/toeirei/pairmaster/internal/model"
)

const trustExportMagic = "pairmaster-trust-v1"

var errImportKeyChanged = errors.New("imported record carries a different key than the trusted one")

// trustImporter is the part of the store trust import writes to.
type trustImporter interface {
	db.TrustStore
	db.AuditWriter
}

type trustExport struct {
	Magic   string              `json:"magic"`
	Created time.Time           `json:"created"`
	Records []model.TrustRecord `json:"records"`
}

// managementEngine builds an engine without discovery for commands that
// only change trust state.
func managementEngine() *engine.Engine {
	return engine.New(engine.Config{}, store, engine.WithScanners())
}

func newTrustCmd() *cobra.Command {
	trustCmd := &cobra.Command{
		Use:   "trust",
		Short: "Manage paired devices",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List trusted devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := store.ListTrustRecords(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range recs {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", r.Identity, r.FriendlyName, r.Fingerprints.SHA256, r.LastPairedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <identity>",
		Short: "Forget a paired device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := managementEngine()
			defer func() { _ = eng.Close() }()
			id := model.DeviceIdentity(args[0])
			if err := eng.Revoke(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.trust.revoked", id))
			return nil
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export trust records (zstd-compressed JSON)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := store.ListTrustRecords(cmd.Context())
			if err != nil {
				return err
			}
			path := args[0]
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return err
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			if err := writeTrustExport(f, recs); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			_ = store.LogAction("EXPORT_TRUST", fmt.Sprintf("count=%d", len(recs)))
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.trust.exported", len(recs), path))
			return nil
		},
	}

	var force bool
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import trust records written by 'trust export'",
		Long: `Imports trust records written by 'trust export'. A record whose key
differs from the one already trusted for that device is refused unless
--force is given; forced replacements are audited as key changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			recs, err := readTrustExport(f)
			if err != nil {
				return err
			}
			n, err := importTrustRecords(cmd.Context(), store, recs, force)
			if err != nil {
				return err
			}
			log.Debugf("imported %d trust records from %s", n, args[0])
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.trust.imported", n))
			return nil
		},
	}
	importCmd.Flags().BoolVar(&force, "force", false, "Replace trusted records whose key differs")

	trustCmd.AddCommand(listCmd, revokeCmd, exportCmd, importCmd)
	return trustCmd
}

// importTrustRecords checks every record against the store before writing
// any, so a refused import leaves the store untouched. Session secrets are
// never taken from a file; an unchanged key keeps the stored secret.
func importTrustRecords(ctx context.Context, st trustImporter, recs []model.TrustRecord, force bool) (int, error) {
	replaced := make(map[model.DeviceIdentity]bool)
	for i := range recs {
		r := &recs[i]
		r.SessionSecret = nil
		cur, err := st.GetTrustRecord(ctx, r.Identity)
		if err != nil {
			return 0, err
		}
		if cur == nil {
			continue
		}
		if bytes.Equal(cur.PublicKey, r.PublicKey) {
			r.SessionSecret = cur.SessionSecret
			continue
		}
		if !force {
			return 0, fmt.Errorf("%w: %s (use --force to replace it)", errImportKeyChanged, r.Identity)
		}
		replaced[r.Identity] = true
	}
	for _, r := range recs {
		if err := st.PutTrustRecord(ctx, r); err != nil {
			return 0, err
		}
		if replaced[r.Identity] {
			_ = st.LogAction("PAIR_KEY_CHANGED", fmt.Sprintf("identity=%s source=import sha256=%s", r.Identity, r.Fingerprints.SHA256))
		}
	}
	_ = st.LogAction("IMPORT_TRUST", fmt.Sprintf("count=%d replaced=%d", len(recs), len(replaced)))
	return len(recs), nil
}

// writeTrustExport writes recs without their session secrets.
func writeTrustExport(w io.Writer, recs []model.TrustRecord) error {
	public := make([]model.TrustRecord, len(recs))
	for i, r := range recs {
		r.SessionSecret = nil
		public[i] = r
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(zw).Encode(trustExport{Magic: trustExportMagic, Created: time.Now().UTC(), Records: public}); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func readTrustExport(r io.Reader) ([]model.TrustRecord, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var exp trustExport
	if err := json.NewDecoder(zr).Decode(&exp); err != nil {
		return nil, fmt.Errorf("invalid trust export: %w", err)
	}
	if exp.Magic != trustExportMagic {
		return nil, fmt.Errorf("invalid trust export: unexpected magic %q", exp.Magic)
	}
	return exp.Records, nil
}
