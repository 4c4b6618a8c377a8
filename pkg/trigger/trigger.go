package trigger

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/httprunner/provisioner/pkg/gateway"
	"github.com/httprunner/provisioner/pkg/readiness"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultPollInterval = time.Second

// Reason values reported in Result.
const (
	ReasonFile   = "file"
	ReasonSignal = "signal"
)

// Config describes one gated execution.
type Config struct {
	// File releases the gate once it exists. Optional when Signals is set.
	File    string
	Signals []os.Signal
	// Consume removes File after it released the gate.
	Consume      bool
	PollInterval time.Duration
	// Timeout bounds the wait; zero waits until the context is done.
	Timeout time.Duration
	Command gateway.Command
}

// Result describes why the gate opened and how the command finished.
type Result struct {
	Reason   string
	ExitCode int
	Command  gateway.Result
}

// Runner waits for a trigger file or a signal, then runs its command once.
type Runner struct {
	cfg    Config
	runner gateway.Runner
	clock  readiness.Clock
	logger zerolog.Logger

	fired atomic.Bool

	notify func(c chan<- os.Signal, sig ...os.Signal)
	stop   func(c chan<- os.Signal)
}

// New validates cfg. Without explicit signals SIGUSR1 is watched.
func New(cfg Config, runner gateway.Runner, logger zerolog.Logger) (*Runner, error) {
	if strings.TrimSpace(cfg.Command.Name) == "" {
		return nil, errors.New("trigger: command is required")
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGUSR1}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Runner{
		cfg:    cfg,
		runner: runner,
		clock:  readiness.SystemClock{},
		logger: logger,
		notify: signal.Notify,
		stop:   signal.Stop,
	}, nil
}

// Fire opens the gate as if a watched signal had arrived.
func (r *Runner) Fire() {
	r.fired.Store(true)
}

// Run blocks until the gate opens, then executes the command. A gate timeout
// or cancellation returns exit code 1 and the wait error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	reason, err := r.wait(ctx)
	if err != nil {
		r.logger.Error().Err(err).Str("file", r.cfg.File).Msg("trigger: gate never opened")
		return Result{ExitCode: 1}, err
	}
	r.logger.Info().Str("reason", reason).Str("command", r.cfg.Command.String()).Msg("trigger: gate opened")

	if reason == ReasonFile && r.cfg.Consume {
		if err := os.Remove(r.cfg.File); err != nil && !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Str("file", r.cfg.File).Msg("trigger: consume trigger file failed")
		}
	}

	res, err := r.runner.Run(ctx, r.cfg.Command)
	if err != nil {
		r.logger.Error().Err(err).Str("command", r.cfg.Command.String()).Msg("trigger: command failed")
		return Result{Reason: reason, ExitCode: 1, Command: res}, err
	}
	r.logger.Info().Int("exit_code", res.ExitCode).Dur("duration", res.Duration).Msg("trigger: command finished")
	return Result{Reason: reason, ExitCode: res.ExitCode, Command: res}, nil
}

func (r *Runner) wait(ctx context.Context) (string, error) {
	gateCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	r.notify(sigCh, r.cfg.Signals...)
	defer r.stop(sigCh)

	g, gctx := errgroup.WithContext(gateCtx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigCh:
				r.logger.Info().Str("signal", sig.String()).Msg("trigger: signal received")
				r.fired.Store(true)
			}
		}
	})

	var reason string
	g.Go(func() error {
		defer cancel()
		timeout := r.cfg.Timeout
		if timeout <= 0 {
			timeout = -1
		}
		var err error
		reason, err = readiness.Await(gctx, readiness.Policy{
			Name:     "trigger",
			Interval: r.cfg.PollInterval,
			Timeout:  timeout,
			Clock:    r.clock,
			Logger:   r.logger,
		}, r.check)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	return reason, nil
}

func (r *Runner) check(context.Context) (string, bool) {
	if r.fired.Load() {
		return ReasonSignal, true
	}
	if r.cfg.File == "" {
		return "", false
	}
	if info, err := os.Stat(r.cfg.File); err == nil && !info.IsDir() {
		return ReasonFile, true
	}
	return "", false
}
