// Package badger implements the write journal on top of BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/journal"
)

// Key Namespace Prefixes:
//
// Data Type        Prefix   Key Format        Value Type
// =======================================================
// Entry header     "j:"     j:<token>         journal.Entry (JSON, without data)
// Entry data       "d:"     d:<token>         raw bytes
//
// Headers and data are written in the same transaction, so a header never
// exists without its data.
const (
	prefixEntry = "j:"
	prefixData  = "d:"
)

func keyEntry(token string) []byte {
	return []byte(prefixEntry + token)
}

func keyData(token string) []byte {
	return []byte(prefixData + token)
}

// Config contains configuration for the BadgerDB journal.
type Config struct {
	// DBPath is the directory where BadgerDB stores its files
	DBPath string

	// InMemory runs BadgerDB without touching disk (tests)
	InMemory bool
}

// Journal implements journal.Journal using BadgerDB for persistence.
//
// Thread Safety:
// BadgerDB transactions are safe for concurrent use; the Journal adds no
// locking of its own.
type Journal struct {
	db *badger.DB
}

var _ journal.Journal = (*Journal)(nil)

// Open opens (or creates) the journal at cfg.DBPath.
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING) // Reduce log noise
	opts = opts.WithCompression(options.None)
	opts = opts.WithSyncWrites(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", cfg.DBPath, err)
	}

	logger.Debug("Write journal opened at %s", cfg.DBPath)
	return &Journal{db: db}, nil
}

// Save stores or replaces an entry.
func (j *Journal) Save(ctx context.Context, e journal.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	header, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry %s: %w", e.Token, err)
	}

	return j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyEntry(e.Token), header); err != nil {
			return err
		}
		return txn.Set(keyData(e.Token), e.Data)
	})
}

// Remove deletes an entry. Missing entries are ignored.
func (j *Journal) Remove(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(keyEntry(token)); err != nil {
			return err
		}
		return txn.Delete(keyData(token))
	})
}

// Get returns a single entry.
func (j *Journal) Get(ctx context.Context, token string) (journal.Entry, error) {
	var entry journal.Entry
	if err := ctx.Err(); err != nil {
		return entry, err
	}

	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyEntry(token))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return journal.ErrNotFound
		}
		if err != nil {
			return err
		}
		return j.decode(txn, item, &entry)
	})
	return entry, err
}

// List returns every entry, oldest first.
func (j *Journal) List(ctx context.Context) ([]journal.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []journal.Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEntry)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry journal.Entry
			if err := j.decode(txn, it.Item(), &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	journal.SortEntries(entries)
	return entries, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// decode reads a header item and its data. Must run inside a transaction.
func (j *Journal) decode(txn *badger.Txn, item *badger.Item, entry *journal.Entry) error {
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, entry)
	})
	if err != nil {
		return fmt.Errorf("decode journal entry %s: %w", item.Key(), err)
	}

	dataItem, err := txn.Get(keyData(entry.Token))
	if err != nil {
		return fmt.Errorf("journal data for %s: %w", entry.Token, err)
	}
	entry.Data, err = dataItem.ValueCopy(nil)
	return err
}
