package mount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/unionfs-tools/mergerd/internal/log"
)

// BranchSeparator joins branch paths into the mergerfs source spec
const BranchSeparator = ":"

// ExecRunner implements Executor by shelling out to the mergerfs and
// unmount tools.
type ExecRunner struct {
	// MergerfsBin is the mergerfs binary name or path
	MergerfsBin string
	// UmountBin is the graceful unmount binary
	UmountBin string
	// FusermountBin is the FUSE unmount binary used for forced,
	// lazy unmounts
	FusermountBin string
	// Timeout bounds each tool invocation so a hung tool cannot
	// block a request forever. Zero means no bound.
	Timeout time.Duration
}

// NewExecRunner creates an executor with the given tool names and
// per-invocation timeout
func NewExecRunner(mergerfsBin, umountBin, fusermountBin string, timeout time.Duration) *ExecRunner {
	return &ExecRunner{
		MergerfsBin:   mergerfsBin,
		UmountBin:     umountBin,
		FusermountBin: fusermountBin,
		Timeout:       timeout,
	}
}

// MountUnion mounts branches at dest with the given option string
func (r *ExecRunner) MountUnion(ctx context.Context, branches []string, dest, options string) (Outcome, error) {
	args := mountArgs(branches, dest, options)
	return r.run(ctx, r.MergerfsBin, args...)
}

// UnmountGraceful performs a standard unmount of dest
func (r *ExecRunner) UnmountGraceful(ctx context.Context, dest string) (Outcome, error) {
	return r.run(ctx, r.UmountBin, dest)
}

// UnmountForce performs a lazy, forced unmount of dest
func (r *ExecRunner) UnmountForce(ctx context.Context, dest string) (Outcome, error) {
	return r.run(ctx, r.FusermountBin, "-uz", dest)
}

// mountArgs builds the mergerfs argv:
// mergerfs SRC1:SRC2:... /dest -o defaults,allow_other,use_ino,...
func mountArgs(branches []string, dest, options string) []string {
	return []string{strings.Join(branches, BranchSeparator), dest, "-o", options}
}

// run invokes one external process and captures its output
func (r *ExecRunner) run(ctx context.Context, name string, args ...string) (Outcome, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	log.Debug("running command", "cmd", name, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Outcome{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return out, fmt.Errorf("%s timed out after %s: %w", name, r.Timeout, ctx.Err())
		case errors.As(err, &exitErr):
			out.ExitCode = exitErr.ExitCode()
		default:
			return out, fmt.Errorf("run %s: %w", name, err)
		}
	}

	return out, nil
}
