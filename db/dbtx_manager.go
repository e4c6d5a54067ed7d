package db

import (
	"fmt"
)

// DBTxManager runs a group of writes as one batch on the shared provider,
// so block, index and metadata updates land together or not at all.
type DBTxManager struct {
	provider DatabaseProvider
}

// NewDBTxManager creates a transaction manager over provider
func NewDBTxManager(provider DatabaseProvider) *DBTxManager {
	return &DBTxManager{provider: provider}
}

// WithBatch commits the batch when fn returns nil and discards it otherwise.
func (tm *DBTxManager) WithBatch(fn func(batch DatabaseBatch) error) error {
	batch := tm.provider.Batch()
	defer batch.Close()

	if err := fn(batch); err != nil {
		batch.Reset()
		return fmt.Errorf("transaction failed: %w", err)
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}
