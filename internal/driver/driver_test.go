package driver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unionfs-tools/mergerd/internal/mount"
	"github.com/unionfs-tools/mergerd/internal/procmounts"
	"github.com/unionfs-tools/mergerd/internal/registry"
)

// fakeObserver is a mount table the executor below manipulates.
type fakeObserver struct {
	mounted map[string]bool
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{mounted: make(map[string]bool)}
}

func (o *fakeObserver) IsMountedAt(path string) (bool, error) {
	return o.mounted[filepath.Clean(path)], nil
}

func (o *fakeObserver) ListAll() ([]procmounts.Entry, error) {
	return o.FindUnionMounts()
}

func (o *fakeObserver) FindUnionMounts() ([]procmounts.Entry, error) {
	var out []procmounts.Entry
	for p, on := range o.mounted {
		if on {
			out = append(out, procmounts.Entry{
				Device:     "src",
				MountPoint: p,
				FSType:     mount.UnionFSType,
				Options:    "rw",
			})
		}
	}
	return out, nil
}

// fakeExecutor reflects successful operations into the fake observer,
// mimicking the kernel mount table.
type fakeExecutor struct {
	obs *fakeObserver

	mountCalls    int
	gracefulCalls int
	forceCalls    int

	lastBranches []string
	lastOptions  string

	mountFails     bool // mergerfs exits non-zero
	mountInvisible bool // mergerfs exits zero but nothing shows up
	gracefulSticks bool // graceful unmount does not clear the mount
	forceFails     bool // forced unmount exits non-zero
}

func (e *fakeExecutor) MountUnion(_ context.Context, branches []string, dest, options string) (mount.Outcome, error) {
	e.mountCalls++
	e.lastBranches = append([]string(nil), branches...)
	e.lastOptions = options
	if e.mountFails {
		return mount.Outcome{ExitCode: 1, Stderr: "fuse: mount failed"}, nil
	}
	if !e.mountInvisible {
		e.obs.mounted[dest] = true
	}
	return mount.Outcome{}, nil
}

func (e *fakeExecutor) UnmountGraceful(_ context.Context, dest string) (mount.Outcome, error) {
	e.gracefulCalls++
	if e.gracefulSticks {
		return mount.Outcome{ExitCode: 1, Stderr: "target is busy"}, nil
	}
	delete(e.obs.mounted, dest)
	return mount.Outcome{}, nil
}

func (e *fakeExecutor) UnmountForce(_ context.Context, dest string) (mount.Outcome, error) {
	e.forceCalls++
	if e.forceFails {
		return mount.Outcome{ExitCode: 1, Stderr: "fusermount: failed"}, nil
	}
	delete(e.obs.mounted, dest)
	return mount.Outcome{}, nil
}

type fixture struct {
	driver *Driver
	store  *registry.MemoryStore
	obs    *fakeObserver
	exec   *fakeExecutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	obs := newFakeObserver()
	exec := &fakeExecutor{obs: obs}
	store := registry.NewMemoryStore()
	return &fixture{
		driver: New(store, obs, exec, ""),
		store:  store,
		obs:    obs,
		exec:   exec,
	}
}

// tempDir returns a symlink-resolved temporary directory so paths
// compare equal to what the validator produces.
func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestCreate_ThenGet(t *testing.T) {
	f := newFixture(t)
	base := tempDir(t)
	branchB := filepath.Join(base, "b")
	branchA := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branchA, 0755))
	require.NoError(t, os.MkdirAll(branchB, 0755))
	dest := filepath.Join(base, "pool")

	// Deliberately b-before-a: order is precedence and must survive.
	err := f.driver.Create(context.Background(), dest, []string{branchB, branchA}, false, "")
	require.NoError(t, err)

	got, err := f.driver.Get(dest)
	require.NoError(t, err)
	assert.True(t, got.Mounted)
	assert.Equal(t, []string{branchB, branchA}, got.Branches)
	assert.Equal(t, DefaultMountOpts, got.MountOpts)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCreate_AppendsRequestOptions(t *testing.T) {
	f := newFixture(t)
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))

	err := f.driver.Create(context.Background(), filepath.Join(base, "pool"), []string{branch}, false, "category.create=mfs")
	require.NoError(t, err)
	assert.Equal(t, DefaultMountOpts+",category.create=mfs", f.exec.lastOptions)
}

func TestCreate_InvalidDest(t *testing.T) {
	f := newFixture(t)

	for _, dest := range []string{"", "relative/path", "/has space"} {
		err := f.driver.Create(context.Background(), dest, []string{"/src"}, false, "")
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve, "dest %q", dest)
	}
	assert.Zero(t, f.exec.mountCalls)
}

func TestCreate_MissingBranch(t *testing.T) {
	f := newFixture(t)
	base := tempDir(t)
	missing := filepath.Join(base, "missing")

	err := f.driver.Create(context.Background(), filepath.Join(base, "pool"), []string{missing}, false, "")

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, missing)
	// No mount attempt happens when any branch check fails.
	assert.Zero(t, f.exec.mountCalls)
	_, err = f.store.Get(filepath.Join(base, "pool"))
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestCreate_NoBranches(t *testing.T) {
	f := newFixture(t)
	base := tempDir(t)

	err := f.driver.Create(context.Background(), filepath.Join(base, "pool"), nil, false, "")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCreate_BranchIsFile(t *testing.T) {
	f := newFixture(t)
	base := tempDir(t)
	file := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	err := f.driver.Create(context.Background(), filepath.Join(base, "pool"), []string{file}, false, "")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Zero(t, f.exec.mountCalls)
}

func TestCreate_DestIsFile(t *testing.T) {
	f := newFixture(t)
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))
	dest := filepath.Join(base, "dest")
	require.NoError(t, os.WriteFile(dest, []byte("x"), 0644))

	err := f.driver.Create(context.Background(), dest, []string{branch}, false, "")
	var ce *ConflictError
	assert.ErrorAs(t, err, &ce)
	assert.Zero(t, f.exec.mountCalls)
}

func TestCreate_AlreadyMounted(t *testing.T) {
	f := newFixture(t)
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))
	dest := filepath.Join(base, "pool")

	require.NoError(t, f.driver.Create(context.Background(), dest, []string{branch}, false, ""))
	before, err := f.store.Get(dest)
	require.NoError(t, err)

	// Identical call without force is an explicit conflict, not a
	// silent no-op.
	err = f.driver.Create(context.Background(), dest, []string{branch}, false, "")
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)

	after, err := f.store.Get(dest)
	require.NoError(t, err)
	assert.Equal(t, before, after, "registry must be unchanged after a conflict")
	assert.Equal(t, 1, f.exec.mountCalls)
	mounted, _ := f.obs.IsMountedAt(dest)
	assert.True(t, mounted)
}

func TestCreate_AllowForceRemounts(t *testing.T) {
	f := newFixture(t)
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))
	dest := filepath.Join(base, "pool")

	require.NoError(t, f.driver.Create(context.Background(), dest, []string{branch}, false, ""))
	require.NoError(t, f.driver.Create(context.Background(), dest, []string{branch}, true, ""))

	assert.Equal(t, 1, f.exec.forceCalls, "forced unmount precedes the remount")
	assert.Equal(t, 2, f.exec.mountCalls)
}

func TestCreate_MountToolFails(t *testing.T) {
	f := newFixture(t)
	f.exec.mountFails = true
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))
	dest := filepath.Join(base, "pool")

	err := f.driver.Create(context.Background(), dest, []string{branch}, false, "")

	var me *MountError
	require.ErrorAs(t, err, &me)
	assert.Contains(t, me.Stderr, "mount failed")
	// Never record an entry for a mount that did not happen.
	_, err = f.store.Get(dest)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestCreate_MountNotVisible(t *testing.T) {
	f := newFixture(t)
	f.exec.mountInvisible = true
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))
	dest := filepath.Join(base, "pool")

	err := f.driver.Create(context.Background(), dest, []string{branch}, false, "")

	var me *MountError
	require.ErrorAs(t, err, &me)
	assert.Contains(t, me.Reason, "not visible")
	_, err = f.store.Get(dest)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRemove_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.driver.Remove(context.Background(), "/mnt/nothing", false, false)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	err = f.driver.Remove(context.Background(), "", false, false)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestRemove_StillMountedWithoutForce(t *testing.T) {
	f := newFixture(t)
	f.exec.gracefulSticks = true
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))
	dest := filepath.Join(base, "pool")
	require.NoError(t, f.driver.Create(context.Background(), dest, []string{branch}, false, ""))

	err := f.driver.Remove(context.Background(), dest, false, false)

	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	// Entry stays so the leaked live mount is not masked.
	_, err = f.store.Get(dest)
	assert.NoError(t, err)
	mounted, _ := f.obs.IsMountedAt(dest)
	assert.True(t, mounted)
}

func TestRemove_ForceClearsStuckMount(t *testing.T) {
	f := newFixture(t)
	f.exec.gracefulSticks = true
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))
	dest := filepath.Join(base, "pool")
	require.NoError(t, f.driver.Create(context.Background(), dest, []string{branch}, false, ""))

	require.NoError(t, f.driver.Remove(context.Background(), dest, false, true))

	_, err := f.store.Get(dest)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	mounted, _ := f.obs.IsMountedAt(dest)
	assert.False(t, mounted)
	// The now-empty mount point directory is removed.
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}

func TestRemove_ForceKeepsNonEmptyDir(t *testing.T) {
	f := newFixture(t)
	f.exec.gracefulSticks = true
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))
	dest := filepath.Join(base, "pool")
	require.NoError(t, f.driver.Create(context.Background(), dest, []string{branch}, false, ""))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "leftover"), []byte("x"), 0644))

	require.NoError(t, f.driver.Remove(context.Background(), dest, false, true))

	// Never delete a directory that still has contents.
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRemove_ForceFails(t *testing.T) {
	f := newFixture(t)
	f.exec.gracefulSticks = true
	f.exec.forceFails = true
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))
	dest := filepath.Join(base, "pool")
	require.NoError(t, f.driver.Create(context.Background(), dest, []string{branch}, false, ""))

	err := f.driver.Remove(context.Background(), dest, false, true)

	var ue *UnmountError
	require.ErrorAs(t, err, &ue)
	_, err = f.store.Get(dest)
	assert.NoError(t, err, "registry untouched after failed forced unmount")
}

func TestRemove_Orphan(t *testing.T) {
	f := newFixture(t)
	// Live mount with no registry entry.
	f.obs.mounted["/mnt/orphan"] = true

	require.NoError(t, f.driver.Remove(context.Background(), "/mnt/orphan", false, false))
	mounted, _ := f.obs.IsMountedAt("/mnt/orphan")
	assert.False(t, mounted)
}

func TestRemove_Recursive(t *testing.T) {
	f := newFixture(t)
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))
	parent := filepath.Join(base, "pool")
	child1 := filepath.Join(parent, "one")
	child2 := filepath.Join(parent, "two")
	require.NoError(t, f.driver.Create(context.Background(), child1, []string{branch}, false, ""))
	require.NoError(t, f.driver.Create(context.Background(), child2, []string{branch}, false, ""))

	// The parent itself is not mounted; its subtree entries go away.
	require.NoError(t, f.driver.Remove(context.Background(), parent, true, false))

	entries, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestList_MergesLiveState(t *testing.T) {
	f := newFixture(t)
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))
	dest := filepath.Join(base, "pool")
	require.NoError(t, f.driver.Create(context.Background(), dest, []string{branch}, false, ""))

	// The mount dies outside our control.
	delete(f.obs.mounted, dest)

	statuses, err := f.driver.List()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Mounted, "status is re-derived live, never from the registry")
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.driver.Get("/mnt/none")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestOrphans(t *testing.T) {
	f := newFixture(t)
	base := tempDir(t)
	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))
	dest := filepath.Join(base, "pool")
	require.NoError(t, f.driver.Create(context.Background(), dest, []string{branch}, false, ""))
	f.obs.mounted["/mnt/orphan"] = true

	orphans, err := f.driver.Orphans()
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "/mnt/orphan", orphans[0].MountPoint)
}

func TestCreate_BaseDirJail(t *testing.T) {
	base := tempDir(t)
	obs := newFakeObserver()
	exec := &fakeExecutor{obs: obs}
	d := New(registry.NewMemoryStore(), obs, exec, base)

	branch := filepath.Join(base, "a")
	require.NoError(t, os.MkdirAll(branch, 0755))

	err := d.Create(context.Background(), "/outside/pool", []string{branch}, false, "")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, exec.mountCalls)

	require.NoError(t, d.Create(context.Background(), filepath.Join(base, "pool"), []string{branch}, false, ""))
}
