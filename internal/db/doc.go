// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package db is the persistence layer behind the trust store.
//
// It keeps three tables: trust_records (one row per paired device identity),
// device_blacklist and audit_log. SQLite, PostgreSQL and MySQL are supported
// through Bun; the schema is created by embedded, per-dialect migrations.
//
// Callers depend on the small interfaces in store.go rather than on *bun.DB.
package db
