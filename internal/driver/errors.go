package driver

// The coordinator sorts every failure into a small taxonomy so the
// RPC layer can map it to a response without string matching.
// Anything outside these types is an infrastructure failure.

// ValidationError reports malformed input. No state was mutated.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ConflictError reports that the operation's preconditions are not
// met given current state. No state was mutated; the caller may retry
// with adjusted flags.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// NotFoundError reports that neither the registry nor the live mount
// table knows the target.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string { return e.Path + " not found" }

// MountError reports a failed mergerfs invocation, or one whose
// result could not be confirmed against the live mount table.
type MountError struct {
	Reason string
	Stderr string
}

func (e *MountError) Error() string {
	if e.Stderr != "" {
		return e.Reason + ": " + e.Stderr
	}
	return e.Reason
}

// UnmountError reports a failed forced unmount. The filesystem is
// left in whatever state the tool left it; the operator retries.
type UnmountError struct {
	Reason string
	Stderr string
}

func (e *UnmountError) Error() string {
	if e.Stderr != "" {
		return e.Reason + ": " + e.Stderr
	}
	return e.Reason
}
