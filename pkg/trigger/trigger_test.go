package trigger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/httprunner/provisioner/pkg/gateway"
	"github.com/httprunner/provisioner/pkg/readiness"
	"github.com/rs/zerolog"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []gateway.Command
	res   gateway.Result
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, cmd gateway.Command) (gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	return f.res, f.err
}

// fakeSignals captures the channel handed to notify so tests can deliver
// signals without touching the process.
type fakeSignals struct {
	mu      sync.Mutex
	ch      chan<- os.Signal
	stopped bool
	ready   chan struct{}
}

func newFakeSignals() *fakeSignals { return &fakeSignals{ready: make(chan struct{})} }

func (f *fakeSignals) notify(c chan<- os.Signal, _ ...os.Signal) {
	f.mu.Lock()
	f.ch = c
	f.mu.Unlock()
	close(f.ready)
}

func (f *fakeSignals) stop(chan<- os.Signal) {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeSignals) send(sig os.Signal) {
	<-f.ready
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- sig
}

func newTestRunner(t *testing.T, cfg Config, runner gateway.Runner) (*Runner, *fakeSignals) {
	t.Helper()
	if cfg.Command.Name == "" {
		cfg.Command = gateway.Command{Name: "/usr/bin/update", Args: []string{"--now"}}
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	r, err := New(cfg, runner, zerolog.Nop())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	sigs := newFakeSignals()
	r.notify = sigs.notify
	r.stop = sigs.stop
	return r, sigs
}

func TestRunOpensOnSignal(t *testing.T) {
	runner := &fakeRunner{res: gateway.Result{ExitCode: 7}}
	r, sigs := newTestRunner(t, Config{Timeout: 5 * time.Second}, runner)

	go sigs.send(syscall.SIGUSR1)
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Reason != ReasonSignal || res.ExitCode != 7 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(runner.calls) != 1 || runner.calls[0].Name != "/usr/bin/update" {
		t.Fatalf("command should run exactly once, got %v", runner.calls)
	}
	if !sigs.stopped {
		t.Fatal("signal notification should be stopped after the gate opens")
	}
}

func TestRunOpensOnFileAndConsumes(t *testing.T) {
	file := filepath.Join(t.TempDir(), "update.trigger")
	runner := &fakeRunner{}
	r, _ := newTestRunner(t, Config{File: file, Consume: true, Timeout: 5 * time.Second}, runner)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(file, nil, 0o644)
	}()
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Reason != ReasonFile || res.ExitCode != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Fatalf("trigger file should be consumed, stat err=%v", err)
	}
}

func TestRunKeepsFileWithoutConsume(t *testing.T) {
	file := filepath.Join(t.TempDir(), "update.trigger")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, _ := newTestRunner(t, Config{File: file, Timeout: time.Second}, &fakeRunner{})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("trigger file should remain: %v", err)
	}
}

func TestRunTimesOut(t *testing.T) {
	runner := &fakeRunner{}
	r, _ := newTestRunner(t, Config{File: filepath.Join(t.TempDir(), "never"), Timeout: 30 * time.Millisecond}, runner)
	res, err := r.Run(context.Background())
	if !errors.Is(err, readiness.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if res.ExitCode != 1 || len(runner.calls) != 0 {
		t.Fatalf("command must not run on timeout: %+v %v", res, runner.calls)
	}
}

func TestRunZeroTimeoutWaitsForContext(t *testing.T) {
	r, _ := newTestRunner(t, Config{}, &fakeRunner{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
	if errors.Is(err, readiness.ErrTimeout) {
		t.Fatal("zero timeout must not produce a gate timeout")
	}
}

func TestRunFireAndGatewayError(t *testing.T) {
	runner := &fakeRunner{res: gateway.Result{ExitCode: -1}, err: gateway.ErrExecution}
	r, _ := newTestRunner(t, Config{Timeout: time.Second}, runner)
	r.Fire()
	res, err := r.Run(context.Background())
	if !errors.Is(err, gateway.ErrExecution) || res.ExitCode != 1 || res.Reason != ReasonSignal {
		t.Fatalf("unexpected %+v %v", res, err)
	}
}

func TestNewRequiresCommand(t *testing.T) {
	if _, err := New(Config{}, &fakeRunner{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error without command")
	}
	r, err := New(Config{Command: gateway.Command{Name: "true"}}, &fakeRunner{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if len(r.cfg.Signals) != 1 || r.cfg.Signals[0] != syscall.SIGUSR1 || r.cfg.PollInterval != DefaultPollInterval {
		t.Fatalf("unexpected defaults %+v", r.cfg)
	}
}
