// Package registry persists the declared mounts: what should exist,
// keyed by destination path. It records intent, not current truth;
// live mount status is always re-derived from the mount table.
package registry

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no entry exists for a destination path
var ErrNotFound = errors.New("mount entry not found")

// Entry is one declared mount. Branches is the mergerfs precedence
// order and is preserved exactly as supplied.
type Entry struct {
	DestPath  string    `json:"dest_path"`
	Branches  []string  `json:"branches"`
	MountOpts string    `json:"mount_opts"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists declared mounts. Implementations must be safe for
// concurrent use. Errors returned here are infrastructure failures,
// not business-rule rejections.
type Store interface {
	// Upsert inserts or fully overwrites the entry keyed by its
	// destination path
	Upsert(entry Entry) error

	// Delete removes the exact-key entry, or every entry under the
	// given path prefix when recursive is set
	Delete(destPath string, recursive bool) error

	// Get returns the entry for destPath, or ErrNotFound
	Get(destPath string) (*Entry, error)

	// GetPrefix returns all entries whose destination path starts
	// with destPath. An empty slice means no match.
	GetPrefix(destPath string) ([]Entry, error)

	// List returns all entries
	List() ([]Entry, error)

	// Close releases the underlying storage
	Close() error
}
