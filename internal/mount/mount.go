// Package mount exposes the live mount table and the privileged
// mount/unmount tools behind small interfaces.
package mount

import (
	"context"

	"github.com/unionfs-tools/mergerd/internal/procmounts"
)

// UnionFSType is the filesystem type the kernel reports for mergerfs
// mounts.
const UnionFSType = "fuse.mergerfs"

// Observer reports the live state of the kernel mount table. Mounts
// appear and disappear outside this process, so implementations must
// re-query the table on every call instead of caching.
type Observer interface {
	// ListAll returns every entry in the live mount table
	ListAll() ([]procmounts.Entry, error)
	// IsMountedAt reports whether something is mounted exactly at path
	IsMountedAt(path string) (bool, error)
	// FindUnionMounts returns the live mergerfs mounts
	FindUnionMounts() ([]procmounts.Entry, error)
}

// Outcome is the captured result of one external tool invocation
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports whether the tool exited with status zero
func (o Outcome) OK() bool { return o.ExitCode == 0 }

// Executor invokes the mount and unmount tools. One subprocess per
// call, literal argv (never a shell), captured output, no retries.
// A non-nil error means the tool could not run or timed out; a
// non-zero exit code is reported through the Outcome instead.
type Executor interface {
	// MountUnion mounts branches (in precedence order) at dest with
	// the given comma-separated option string
	MountUnion(ctx context.Context, branches []string, dest, options string) (Outcome, error)
	// UnmountGraceful performs a standard unmount of dest
	UnmountGraceful(ctx context.Context, dest string) (Outcome, error)
	// UnmountForce performs a lazy, forced unmount of dest
	UnmountForce(ctx context.Context, dest string) (Outcome, error)
}
