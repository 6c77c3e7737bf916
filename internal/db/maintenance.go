// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// maintenanceStep is one statement of a maintenance plan. Optional steps
// are logged and skipped on failure.
type maintenanceStep struct {
	query    string
	optional bool
}

// maintenancePlan returns the statements run by RunDBMaintenance for
// dbType, restricted to the trust store's own tables.
func maintenancePlan(dbType string) ([]maintenanceStep, error) {
	switch dbType {
	case "sqlite":
		return []maintenanceStep{
			{query: "PRAGMA optimize", optional: true},
			{query: "VACUUM"},
			{query: "PRAGMA wal_checkpoint(TRUNCATE)", optional: true},
		}, nil
	case "postgres":
		steps := make([]maintenanceStep, 0, len(storeTables))
		for _, t := range storeTables {
			steps = append(steps, maintenanceStep{query: "VACUUM ANALYZE " + t})
		}
		return steps, nil
	case "mysql":
		steps := make([]maintenanceStep, 0, len(storeTables))
		for _, t := range storeTables {
			steps = append(steps, maintenanceStep{query: "OPTIMIZE TABLE " + t, optional: true})
		}
		return steps, nil
	default:
		return nil, fmt.Errorf("unsupported db type for maintenance: %s", dbType)
	}
}

// RunDBMaintenance compacts and re-analyzes the trust store tables. SQLite
// stores are also integrity checked afterwards.
func RunDBMaintenance(ctx context.Context, dbType, dsn string) error {
	plan, err := maintenancePlan(dbType)
	if err != nil {
		return err
	}
	if dbType == "sqlite" {
		dsn = sqliteDSN(dsn)
	}
	sqlDB, err := sqlOpenFunc(driverFor(dbType), dsn)
	if err != nil {
		return fmt.Errorf("failed to open database for maintenance: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	return runMaintenance(ctx, sqlDB, dbType, plan)
}

func runMaintenance(ctx context.Context, sqlDB *sql.DB, dbType string, plan []maintenanceStep) error {
	var lastErr error
	for _, step := range plan {
		start := time.Now()
		if _, err := sqlDB.ExecContext(ctx, step.query); err != nil {
			if !step.optional {
				return fmt.Errorf("%s: %q failed: %w", dbType, step.query, err)
			}
			dbLogf("db: maintenance %q failed (ignored): %v", step.query, err)
			lastErr = err
			continue
		}
		dbLogf("db: maintenance %q took %s", step.query, time.Since(start))
	}
	if dbType == "sqlite" {
		var res string
		if err := sqlDB.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&res); err == nil && res != "ok" {
			return fmt.Errorf("sqlite integrity_check failed: %s", res)
		}
	}
	if dbType == "mysql" && lastErr != nil {
		return fmt.Errorf("mysql optimize encountered errors: %w", lastErr)
	}
	return nil
}
