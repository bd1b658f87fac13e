package registry

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces mount entries inside the database so future
// record types cannot collide.
const keyPrefix = "mount/"

// BadgerStore implements Store on top of BadgerDB, an embedded
// key-value store with crash recovery. Entries are stored as JSON
// under "mount/<dest_path>", which makes recursive operations a
// prefix scan.
type BadgerStore struct {
	db *badger.DB
}

// Open opens (or creates) a badger-backed store at path
func Open(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open registry at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenInMemory opens an ephemeral store that lives only as long as
// the process. Used by tests and throwaway runs.
func OpenInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory registry: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func entryKey(destPath string) []byte {
	return []byte(keyPrefix + destPath)
}

// Upsert inserts or fully overwrites the entry keyed by its
// destination path
func (s *BadgerStore) Upsert(entry Entry) error {
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.DestPath), val)
	})
	if err != nil {
		return fmt.Errorf("store entry for %s: %w", entry.DestPath, err)
	}
	return nil
}

// Get returns the entry for destPath, or ErrNotFound
func (s *BadgerStore) Get(destPath string) (*Entry, error) {
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(destPath))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read entry for %s: %w", destPath, err)
	}
	return &entry, nil
}

// GetPrefix returns all entries whose destination path starts with
// destPath
func (s *BadgerStore) GetPrefix(destPath string) ([]Entry, error) {
	entries := []Entry{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryKey(destPath)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan entries under %s: %w", destPath, err)
	}
	return entries, nil
}

// List returns all entries
func (s *BadgerStore) List() ([]Entry, error) {
	entries, err := s.GetPrefix("")
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Delete removes the exact-key entry, or every entry under the path
// prefix when recursive is set
func (s *BadgerStore) Delete(destPath string, recursive bool) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if !recursive {
			return txn.Delete(entryKey(destPath))
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = entryKey(destPath)
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete entry for %s: %w", destPath, err)
	}
	return nil
}

// Close releases the underlying database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
