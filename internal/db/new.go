package db

import "fmt"

// New opens the store for the configured backend. An empty dbType means
// sqlite.
func New(dbType, dsn string) (Store, error) {
	if dbType == "" {
		dbType = "sqlite"
	}
	s, err := NewStoreFromDSN(dbType, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return s, nil
}
