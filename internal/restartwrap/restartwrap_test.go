package restartwrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestRunningReflectsEnv(t *testing.T) {
	t.Setenv(WrappedEnv, "")
	if Running() {
		t.Fatal("expected Running() false with no env var set")
	}
	t.Setenv(WrappedEnv, "1")
	if !Running() {
		t.Fatal("expected Running() true once the env var is set")
	}
}

func TestExitCodeFromExitError(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 5")
	err := cmd.Run()
	if exitCode(err) != 5 {
		t.Fatalf("exitCode = %d, want 5", exitCode(err))
	}
	if exitCode(nil) != CodeClose {
		t.Fatalf("exitCode(nil) = %d, want %d", exitCode(nil), CodeClose)
	}
}

func TestSuperviseReturnsFinalExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	code, err := Supervise(context.Background(), nil, "sh", []string{"-c", "exit 3"})
	if err != nil {
		t.Fatalf("Supervise: %v", err)
	}
	if code != 3 {
		t.Fatalf("code = %d, want 3", code)
	}
}

func TestSuperviseRestartsOnRestartCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	marker := filepath.Join(t.TempDir(), "restarted")
	script := fmt.Sprintf(`if [ -f %q ]; then exit 0; else touch %q; exit %d; fi`, marker, marker, CodeRestart)

	code, err := Supervise(context.Background(), nil, "sh", []string{"-c", script})
	if err != nil {
		t.Fatalf("Supervise: %v", err)
	}
	if code != CodeClose {
		t.Fatalf("code = %d, want %d (clean exit after one restart)", code, CodeClose)
	}
	if _, statErr := os.Stat(marker); statErr != nil {
		t.Fatal("expected the child to have run at least twice")
	}
}

func TestRequestRestartWithoutWrapperReturnsErrNotWrapped(t *testing.T) {
	t.Setenv(WrappedEnv, "")
	if err := RequestRestart(nil); !errors.Is(err, ErrNotWrapped) {
		t.Fatalf("RequestRestart = %v, want ErrNotWrapped", err)
	}
}

func TestSuperviseHonorsCancellation(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("no sleep available")
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var err error
	go func() {
		_, err = Supervise(ctx, nil, "sleep", []string{"5"})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		if err == nil {
			t.Fatal("expected Supervise to report an error after cancellation")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Supervise did not return after context cancellation")
	}
}
