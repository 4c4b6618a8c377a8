package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestExecRunnerCapturesOutput(t *testing.T) {
	runner := NewExecRunner(zerolog.Nop())
	res, err := runner.Run(context.Background(), Command{
		Name: "/bin/sh",
		Args: []string{"-c", "echo Success; echo warn >&2"},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "Success" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "warn" {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
}

func TestExecRunnerNonZeroExitIsNotAnError(t *testing.T) {
	runner := NewExecRunner(zerolog.Nop())
	res, err := runner.Run(context.Background(), Command{
		Name: "/bin/sh",
		Args: []string{"-c", "echo INSTALL_FAILED_VERSION_DOWNGRADE >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("non-zero exit should not error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "INSTALL_FAILED_VERSION_DOWNGRADE") {
		t.Fatalf("stderr not captured: %q", res.Stderr)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	runner := NewExecRunner(zerolog.Nop())
	_, err := runner.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-7f3a"})
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
}

func TestExecRunnerEmptyName(t *testing.T) {
	runner := NewExecRunner(zerolog.Nop())
	if _, err := runner.Run(context.Background(), Command{}); !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	runner := NewExecRunner(zerolog.Nop())
	start := time.Now()
	_, err := runner.Run(context.Background(), Command{
		Name:    "/bin/sh",
		Args:    []string{"-c", "exec sleep 5"},
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout was not enforced, took %s", time.Since(start))
	}
}

func TestExecRunnerPassesEnv(t *testing.T) {
	runner := NewExecRunner(zerolog.Nop())
	res, err := runner.Run(context.Background(), Command{
		Name: "/bin/sh",
		Args: []string{"-c", "printf %s \"$ANDROID_ADB_SERVER_PORT\""},
		Env:  []string{"ANDROID_ADB_SERVER_PORT=5038"},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Stdout != "5038" {
		t.Fatalf("env not forwarded, got %q", res.Stdout)
	}
}

func TestCommandString(t *testing.T) {
	cmd := Command{Name: "adb", Args: []string{"-s", "emulator-5554", "install", "-r", "-d", "/tmp/a.apk"}}
	if got := cmd.String(); got != "adb -s emulator-5554 install -r -d /tmp/a.apk" {
		t.Fatalf("unexpected command string %q", got)
	}
}

func TestExecRunnerParentDeadline(t *testing.T) {
	runner := NewExecRunner(zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	res, err := runner.Run(ctx, Command{Name: "/bin/sh", Args: []string{"-c", "exec sleep 5"}})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut from the caller deadline, got %v", err)
	}
	if res.ExitCode != -1 {
		t.Fatalf("expected exit code -1, got %d", res.ExitCode)
	}
}

func TestExecRunnerCancelled(t *testing.T) {
	runner := NewExecRunner(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := runner.Run(ctx, Command{Name: "/bin/sh", Args: []string{"-c", "exec sleep 5"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrTimedOut) {
		t.Fatal("cancellation must not be reported as a timeout")
	}
}
