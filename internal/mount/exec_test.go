package mount

import (
	"context"
	"testing"
	"time"
)

func TestMountArgs(t *testing.T) {
	args := mountArgs([]string{"/src/a", "/src/b"}, "/mnt/pool", "defaults,allow_other,use_ino")

	want := []string{"/src/a:/src/b", "/mnt/pool", "-o", "defaults,allow_other,use_ino"}
	if len(args) != len(want) {
		t.Fatalf("got %d args, want %d", len(args), len(want))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestRun_CapturesOutputAndExitCode(t *testing.T) {
	r := &ExecRunner{}

	out, err := r.run(context.Background(), "sh", "-c", "echo hi; echo oops >&2; exit 3")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.OK() {
		t.Error("expected non-zero exit")
	}
	if out.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", out.ExitCode)
	}
	if out.Stdout != "hi\n" {
		t.Errorf("Stdout = %q", out.Stdout)
	}
	if out.Stderr != "oops\n" {
		t.Errorf("Stderr = %q", out.Stderr)
	}
}

func TestRun_Timeout(t *testing.T) {
	r := &ExecRunner{Timeout: 50 * time.Millisecond}

	_, err := r.run(context.Background(), "sleep", "5")
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestRun_MissingBinary(t *testing.T) {
	r := &ExecRunner{}

	_, err := r.run(context.Background(), "definitely-not-a-real-binary")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}
