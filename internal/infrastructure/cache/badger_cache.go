package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/ports"
)

const keyPrefix = "ml_prediction:"

// BadgerCache stores prediction envelopes in BadgerDB with per-entry TTL.
type BadgerCache struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ ports.PredictionCache = (*BadgerCache)(nil)

// Open creates the cache; an empty path keeps it in memory.
func Open(path string, logger *slog.Logger) (*BadgerCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerCache{db: db, logger: logger.With("component", "cache")}, nil
}

// Key returns the cache key of a machine.
func Key(machineID string) string {
	return keyPrefix + machineID
}

// Get returns the cached envelope; expired or absent entries report found=false.
func (c *BadgerCache) Get(ctx context.Context, machineID string) (domain.PredictionResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.PredictionResult{}, false, err
	}

	var result domain.PredictionResult
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key(machineID)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.PredictionResult{}, false, nil
	}
	if err != nil {
		return domain.PredictionResult{}, false, fmt.Errorf("cache get %s: %w", machineID, err)
	}
	return result, true, nil
}

// Set stores the envelope for ttl.
func (c *BadgerCache) Set(ctx context.Context, machineID string, result domain.PredictionResult, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("cache set %s: ttl must be positive", machineID)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", machineID, err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(Key(machineID)), payload).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("cache set %s: %w", machineID, err)
	}
	c.logger.Debug("cache set", "machine_id", machineID, "ttl", ttl)
	return nil
}

// Close releases the underlying database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}
