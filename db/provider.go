package db

import "errors"

var ErrUnknownProvider = errors.New("unknown database provider")

// DatabaseProvider abstracts the key-value backend under the block store.
// Get returns nil, nil for a missing key.
type DatabaseProvider interface {
	Get(key []byte) ([]byte, error)

	// GetBatch skips missing keys; the result is keyed by string(key).
	GetBatch(keys [][]byte) (map[string][]byte, error)

	Put(key, value []byte) error

	Delete(key []byte) error

	Has(key []byte) (bool, error)

	// Close is idempotent.
	Close() error

	// Batch returns a new batch for atomic operations
	Batch() DatabaseBatch
}

// IterableProvider extends DatabaseProvider with iteration capabilities
type IterableProvider interface {
	DatabaseProvider

	// IteratePrefix visits keys with the given prefix in ascending order.
	// The callback returns false to stop.
	IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error
}

// DatabaseBatch buffers writes until Write commits them atomically.
type DatabaseBatch interface {
	Put(key, value []byte)

	Delete(key []byte)

	Write() error

	// Reset clears the batch
	Reset()

	// Close releases batch resources
	Close()
}

type ProviderType string

const (
	ProviderLevelDB ProviderType = "leveldb"
	ProviderMemory  ProviderType = "memory"
	ProviderBolt    ProviderType = "bolt"
	ProviderRedis   ProviderType = "redis"
)

// NewProvider opens the backend named by kind. location is a directory for
// leveldb, a file for bolt and host:port for redis; memory ignores it.
func NewProvider(kind ProviderType, location string) (IterableProvider, error) {
	switch kind {
	case ProviderLevelDB:
		return NewLevelDBProvider(location)
	case ProviderMemory:
		return NewMemLevelDBProvider()
	case ProviderBolt:
		return NewBoltProvider(location)
	case ProviderRedis:
		return NewRedisProvider(location)
	default:
		return nil, ErrUnknownProvider
	}
}
