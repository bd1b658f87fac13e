package mount

import (
	"fmt"
	"path/filepath"

	"github.com/unionfs-tools/mergerd/internal/procmounts"
)

// ProcObserver implements Observer by reading /proc/mounts. It holds
// no state; every call reflects the table at that instant.
type ProcObserver struct {
	parse func() ([]procmounts.Entry, error)
}

// NewProcObserver creates an observer backed by /proc/mounts
func NewProcObserver() *ProcObserver {
	return &ProcObserver{parse: procmounts.Parse}
}

// ListAll returns every entry in the live mount table
func (o *ProcObserver) ListAll() ([]procmounts.Entry, error) {
	return o.parse()
}

// IsMountedAt reports whether something is mounted exactly at path
func (o *ProcObserver) IsMountedAt(path string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("get absolute path: %w", err)
	}

	mounts, err := o.parse()
	if err != nil {
		return false, fmt.Errorf("unable to parse mounts: %w", err)
	}

	for _, m := range mounts {
		if m.MountPoint == absPath {
			return true, nil
		}
	}

	return false, nil
}

// FindUnionMounts returns the live mergerfs mounts
func (o *ProcObserver) FindUnionMounts() ([]procmounts.Entry, error) {
	mounts, err := o.parse()
	if err != nil {
		return nil, fmt.Errorf("unable to parse mounts: %w", err)
	}

	var union []procmounts.Entry
	for _, m := range mounts {
		if m.FSType == UnionFSType {
			union = append(union, m)
		}
	}

	return union, nil
}
