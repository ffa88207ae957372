// Package cache mirrors the in-memory inventory state to snapshot files so
// the app can boot and keep working while the remote store is unreachable.
package cache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/zaiko-app/zaiko/internal/domain/inventory"
)

const (
	itemsFile        = "items.json"
	transactionsFile = "transactions.json"
	metadataFile     = "metadata.json"

	// Oldest transactions are dropped past this point when a write fails.
	maxCachedTransactions = 1000

	storageVersion = "1.0"
)

type metadata struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the single long-lived cache instance, constructed at startup
// and injected into the reconciler.
type Store struct {
	fs  afero.Fs
	dir string
	log *slog.Logger
}

// New prepares the cache directory and writes the version stamp once.
func New(fs afero.Fs, dir string, log *slog.Logger) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{fs: fs, dir: dir, log: log}

	stamp := filepath.Join(dir, metadataFile)
	if _, err := fs.Stat(stamp); os.IsNotExist(err) {
		raw, _ := json.Marshal(metadata{Version: storageVersion, CreatedAt: time.Now()})
		if err := afero.WriteFile(fs, stamp, raw, 0o644); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) write(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return afero.WriteFile(s.fs, filepath.Join(s.dir, name), raw, 0o644)
}

// SaveItems persists the item snapshot. A write failure is not fatal: the
// transaction snapshot is pruned to free space and the write retried once.
func (s *Store) SaveItems(items []inventory.Item) {
	if err := s.write(itemsFile, items); err != nil {
		s.log.Warn("cache: items write failed", "err", err)
		s.pruneTransactions()
		if err := s.write(itemsFile, items); err != nil {
			s.log.Error("cache: items write failed after prune", "err", err)
		}
	}
}

// SaveTransactions persists the transaction snapshot, newest first. On a
// write failure the list is truncated to the newest maxCachedTransactions
// entries and retried once.
func (s *Store) SaveTransactions(txns []inventory.Transaction) {
	if err := s.write(transactionsFile, txns); err != nil {
		s.log.Warn("cache: transactions write failed", "err", err)
		if len(txns) > maxCachedTransactions {
			truncated := txns[:maxCachedTransactions]
			if err := s.write(transactionsFile, truncated); err != nil {
				s.log.Error("cache: transactions write failed after truncate", "err", err)
			}
			return
		}
		s.log.Error("cache: transactions write failed", "err", err)
	}
}

func (s *Store) pruneTransactions() {
	txns, _ := s.LoadTransactions()
	if len(txns) > maxCachedTransactions {
		_ = s.write(transactionsFile, txns[:maxCachedTransactions])
	}
}

// LoadItems reads the item snapshot. A missing or malformed snapshot yields
// an empty slice; the returned error reports corruption so callers can tell
// "empty" from "broken" (the boot path logs it and carries on).
func (s *Store) LoadItems() ([]inventory.Item, error) {
	var items []inventory.Item
	err := s.read(itemsFile, &items)
	if items == nil {
		items = []inventory.Item{}
	}
	return items, err
}

// LoadTransactions reads the transaction snapshot with the same fail-open
// contract as LoadItems.
func (s *Store) LoadTransactions() ([]inventory.Transaction, error) {
	var txns []inventory.Transaction
	err := s.read(transactionsFile, &txns)
	if txns == nil {
		txns = []inventory.Transaction{}
	}
	return txns, err
}

func (s *Store) read(name string, v any) error {
	raw, err := afero.ReadFile(s.fs, filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		s.log.Warn("cache: read failed", "file", name, "err", err)
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.log.Warn("cache: malformed snapshot", "file", name, "err", err)
		return err
	}
	return nil
}

// Clear removes both snapshots; the version stamp stays.
func (s *Store) Clear() {
	_ = s.fs.Remove(filepath.Join(s.dir, itemsFile))
	_ = s.fs.Remove(filepath.Join(s.dir, transactionsFile))
}
