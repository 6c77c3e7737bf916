// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package bootstrap

import "github.com/toeirei/pairmaster/internal/db"

// package-level audit writer override for tests
var auditWriter db.AuditWriter

// SetAuditWriter sets a package-level AuditWriter for install operations.
func SetAuditWriter(w db.AuditWriter) {
	auditWriter = w
}

// ClearAuditWriter clears any previously set package-level AuditWriter.
func ClearAuditWriter() {
	auditWriter = nil
}

// logAction writes an audit entry when a writer is configured. The
// installer's own writer wins over the package override.
func (i *Installer) logAction(action, details string) error {
	if i.audit != nil {
		return i.audit.LogAction(action, details)
	}
	if auditWriter != nil {
		return auditWriter.LogAction(action, details)
	}
	return nil
}
