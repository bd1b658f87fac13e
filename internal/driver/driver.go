// Package driver coordinates the mount lifecycle: it keeps the
// persisted registry of declared mounts consistent with the live
// mount table while sequencing the privileged mount and unmount
// operations in between.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/unionfs-tools/mergerd/internal/log"
	"github.com/unionfs-tools/mergerd/internal/metrics"
	"github.com/unionfs-tools/mergerd/internal/mount"
	"github.com/unionfs-tools/mergerd/internal/pathcheck"
	"github.com/unionfs-tools/mergerd/internal/procmounts"
	"github.com/unionfs-tools/mergerd/internal/registry"
)

// DefaultMountOpts is always applied; request options are appended.
const DefaultMountOpts = "defaults,allow_other,use_ino"

// Driver orchestrates Create, Remove, List and Get. A single mutex
// serializes the whole validate, mutate-OS, re-probe, mutate-registry
// workflow; mounts are infrequent administrative actions, so trading
// concurrency for that simplicity is fine. The registry is only ever
// written after the live mount table has independently confirmed the
// corresponding state.
type Driver struct {
	mu       sync.Mutex
	store    registry.Store
	observer mount.Observer
	exec     mount.Executor
	baseDir  string
}

// MountStatus is a registry entry merged with its live mount state
type MountStatus struct {
	registry.Entry
	Mounted bool
}

// New creates a driver. baseDir, when non-empty, jails every
// destination path under it.
func New(store registry.Store, observer mount.Observer, exec mount.Executor, baseDir string) *Driver {
	return &Driver{
		store:    store,
		observer: observer,
		exec:     exec,
		baseDir:  baseDir,
	}
}

// Create validates the request, mounts the union filesystem and
// records it. The registry entry is written only after the mount is
// visible in the live mount table.
func (d *Driver) Create(ctx context.Context, destPath string, branches []string, allowForce bool, options string) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { metrics.MountOps.WithLabelValues("create", resultLabel(err)).Inc() }()

	log.Debug("creating mount", "dest", destPath, "branches", branches, "allowForce", allowForce)

	dest, err := pathcheck.Validate(destPath, pathcheck.Options{BaseDir: d.baseDir})
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("dest_path: %v", err)}
	}

	if len(branches) == 0 {
		return &ValidationError{Reason: "at least one branch is required"}
	}

	// Every branch must check out before anything is mounted; a bad
	// branch fails the whole operation without invoking the tool.
	resolved := make([]string, 0, len(branches))
	for _, b := range branches {
		p, err := pathcheck.Validate(b, pathcheck.Options{MustExist: true})
		if err != nil {
			if errors.Is(err, pathcheck.ErrNotExist) {
				return &ValidationError{Reason: fmt.Sprintf("branch %s does not exist", b)}
			}
			return &ValidationError{Reason: fmt.Sprintf("branch %s: %v", b, err)}
		}
		if strings.Contains(p, mount.BranchSeparator) {
			return &ValidationError{Reason: fmt.Sprintf("branch %s contains %q, the mergerfs source separator", b, mount.BranchSeparator)}
		}
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("stat branch %s: %w", p, err)
		}
		if !info.IsDir() {
			return &ValidationError{Reason: fmt.Sprintf("branch %s is not a directory", p)}
		}
		resolved = append(resolved, p)
	}

	if info, err := os.Stat(dest); err == nil {
		if !info.IsDir() {
			return &ConflictError{Reason: fmt.Sprintf("%s exists and is not a directory", dest)}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", dest, err)
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("create mount point: %w", err)
	}

	existing, err := d.store.Get(dest)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return fmt.Errorf("lookup registry: %w", err)
	}
	if existing != nil {
		live, err := d.observer.IsMountedAt(dest)
		if err != nil {
			return fmt.Errorf("check mount table: %w", err)
		}
		if live {
			if !allowForce {
				return &ConflictError{Reason: fmt.Sprintf("%s is already mounted", dest)}
			}
			// Best effort; the mount attempt below is the real
			// arbiter of success.
			if out, err := d.exec.UnmountForce(ctx, dest); err != nil {
				log.Warn("forced unmount before remount failed", "dest", dest, "error", err)
			} else if !out.OK() {
				log.Warn("forced unmount before remount exited non-zero", "dest", dest, "stderr", out.Stderr)
			}
		}
	}

	mountOpts := DefaultMountOpts
	if options != "" {
		mountOpts += "," + options
	}

	out, err := d.exec.MountUnion(ctx, resolved, dest, mountOpts)
	if err != nil {
		return &MountError{Reason: fmt.Sprintf("mergerfs invocation failed: %v", err)}
	}
	if !out.OK() {
		return &MountError{Reason: "mergerfs failed", Stderr: strings.TrimSpace(out.Stderr)}
	}

	// The tool's exit code alone is never trusted; the live mount
	// table is the only confirmation of success.
	live, err := d.observer.IsMountedAt(dest)
	if err != nil {
		return fmt.Errorf("check mount table: %w", err)
	}
	if !live {
		return &MountError{Reason: "mount succeeded but is not visible in the mount table"}
	}

	entry := registry.Entry{
		DestPath:  dest,
		Branches:  resolved,
		MountOpts: mountOpts,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.Upsert(entry); err != nil {
		return fmt.Errorf("record mount: %w", err)
	}
	d.updateMountGauge()

	log.Info("mount created", "dest", dest, "branches", len(resolved), "opts", mountOpts)
	return nil
}

// Remove unmounts the destination and deletes its registry entry.
// The entry is deleted only after the mount table confirms the mount
// is gone; a failed unmount leaves the entry in place so the leaked
// mount is not masked.
func (d *Driver) Remove(ctx context.Context, destPath string, recursive, force bool) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() { metrics.MountOps.WithLabelValues("remove", resultLabel(err)).Inc() }()

	log.Debug("removing mount", "dest", destPath, "recursive", recursive, "force", force)

	dest := strings.TrimSpace(destPath)
	if dest == "" {
		return &ValidationError{Reason: "dest_path is required"}
	}
	dest = filepath.Clean(dest)

	known, err := d.isRegistered(dest, recursive)
	if err != nil {
		return err
	}
	if !known {
		live, err := d.observer.IsMountedAt(dest)
		if err != nil {
			return fmt.Errorf("check mount table: %w", err)
		}
		if !live {
			return &NotFoundError{Path: dest}
		}
		// Live but unregistered: an orphan. Proceed so it can be
		// cleared.
		log.Info("removing orphan mount", "dest", dest)
	}

	// Graceful unmount is attempted regardless of registry state and
	// its failure tolerated; the re-probe below decides what happens.
	if out, err := d.exec.UnmountGraceful(ctx, dest); err != nil {
		log.Warn("graceful unmount failed", "dest", dest, "error", err)
	} else if !out.OK() {
		log.Debug("graceful unmount exited non-zero", "dest", dest, "stderr", out.Stderr)
	}

	live, err := d.observer.IsMountedAt(dest)
	if err != nil {
		return fmt.Errorf("check mount table: %w", err)
	}
	if live {
		if !force {
			return &ConflictError{Reason: fmt.Sprintf("%s is still mounted; retry with force", dest)}
		}

		out, err := d.exec.UnmountForce(ctx, dest)
		if err != nil {
			return &UnmountError{Reason: fmt.Sprintf("forced unmount failed: %v", err)}
		}
		if !out.OK() {
			return &UnmountError{Reason: "forced unmount failed", Stderr: strings.TrimSpace(out.Stderr)}
		}

		live, err = d.observer.IsMountedAt(dest)
		if err != nil {
			return fmt.Errorf("check mount table: %w", err)
		}
		if live {
			return &UnmountError{Reason: fmt.Sprintf("%s is still mounted after forced unmount", dest)}
		}

		// Only a now-empty mount point is removed; a non-empty
		// directory may be data a partial unmount left exposed.
		if entries, err := os.ReadDir(dest); err == nil && len(entries) == 0 {
			if err := os.Remove(dest); err != nil {
				log.Warn("failed to remove empty mount point", "dest", dest, "error", err)
			}
		}
	}

	if err := d.store.Delete(dest, recursive); err != nil {
		return fmt.Errorf("delete registry entry: %w", err)
	}
	d.updateMountGauge()

	log.Info("mount removed", "dest", dest, "recursive", recursive)
	return nil
}

// List returns every registered mount with its live status merged in.
// Read-only; tolerates concurrently changing state.
func (d *Driver) List() ([]MountStatus, error) {
	entries, err := d.store.List()
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}

	statuses := make([]MountStatus, 0, len(entries))
	for _, e := range entries {
		mounted, err := d.observer.IsMountedAt(e.DestPath)
		if err != nil {
			return nil, fmt.Errorf("check mount table: %w", err)
		}
		statuses = append(statuses, MountStatus{Entry: e, Mounted: mounted})
	}
	return statuses, nil
}

// Get returns one registered mount with its live status merged in
func (d *Driver) Get(destPath string) (*MountStatus, error) {
	dest := strings.TrimSpace(destPath)
	if dest == "" {
		return nil, &ValidationError{Reason: "dest_path is required"}
	}
	dest = filepath.Clean(dest)

	entry, err := d.store.Get(dest)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, &NotFoundError{Path: dest}
		}
		return nil, fmt.Errorf("lookup registry: %w", err)
	}

	mounted, err := d.observer.IsMountedAt(entry.DestPath)
	if err != nil {
		return nil, fmt.Errorf("check mount table: %w", err)
	}
	return &MountStatus{Entry: *entry, Mounted: mounted}, nil
}

// Orphans returns live union mounts that have no registry entry
func (d *Driver) Orphans() ([]procmounts.Entry, error) {
	live, err := d.observer.FindUnionMounts()
	if err != nil {
		return nil, fmt.Errorf("find union mounts: %w", err)
	}

	orphans := []procmounts.Entry{}
	for _, m := range live {
		_, err := d.store.Get(m.MountPoint)
		if errors.Is(err, registry.ErrNotFound) {
			orphans = append(orphans, m)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup registry: %w", err)
		}
	}
	return orphans, nil
}

func (d *Driver) isRegistered(dest string, recursive bool) (bool, error) {
	if recursive {
		entries, err := d.store.GetPrefix(dest)
		if err != nil {
			return false, fmt.Errorf("lookup registry: %w", err)
		}
		return len(entries) > 0, nil
	}

	_, err := d.store.Get(dest)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup registry: %w", err)
	}
	return true, nil
}

func (d *Driver) updateMountGauge() {
	entries, err := d.store.List()
	if err != nil {
		return
	}
	metrics.RegisteredMounts.Set(float64(len(entries)))
}

// resultLabel maps an operation outcome to a metrics label
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}

	var (
		ve *ValidationError
		ce *ConflictError
		nf *NotFoundError
		me *MountError
		ue *UnmountError
	)
	switch {
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &ce):
		return "conflict"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &me):
		return "mount_error"
	case errors.As(err, &ue):
		return "unmount_error"
	default:
		return "internal_error"
	}
}
