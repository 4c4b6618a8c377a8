package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/httprunner/provisioner"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config controls enabled sinks.
type Config struct {
	// JSONPath receives the pretty-printed report; empty disables the sink.
	JSONPath string
	// SQLitePath stores the latest run in a database; empty disables the sink.
	SQLitePath string
}

// Sink defines the contract for each storage implementation.
type Sink interface {
	Write(ctx context.Context, report *provisioner.RunReport) error
	Close() error
	Name() string
}

// Manager fan-outs reports to configured sinks.
type Manager struct {
	sinks  []Sink
	name   string
	logger zerolog.Logger
}

// ErrNoSinks is returned by NewManager when no sink could be enabled.
var ErrNoSinks = pkgerrors.New("storage: no sinks enabled")

// NewManager builds a storage manager based on cfg. A sink that cannot be
// opened is logged and skipped; ErrNoSinks is returned when none is left.
func NewManager(cfg Config, logger zerolog.Logger) (*Manager, error) {
	sinks := make([]Sink, 0, 2)
	if strings.TrimSpace(cfg.JSONPath) != "" {
		sinks = append(sinks, NewJSONFileSink(cfg.JSONPath))
	}
	if strings.TrimSpace(cfg.SQLitePath) != "" {
		sqlite, err := NewSQLiteSink(cfg.SQLitePath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.SQLitePath).Msg("sqlite sink unavailable, skipping")
		} else {
			sinks = append(sinks, sqlite)
		}
	}
	if len(sinks) == 0 {
		return nil, ErrNoSinks
	}
	return NewManagerWithSinks(logger, sinks...), nil
}

// NewManagerWithSinks wraps already constructed sinks.
func NewManagerWithSinks(logger zerolog.Logger, sinks ...Sink) *Manager {
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	return &Manager{sinks: sinks, name: strings.Join(names, ","), logger: logger}
}

// Write hands report to every sink. A failing sink does not stop the others.
func (m *Manager) Write(ctx context.Context, report *provisioner.RunReport) error {
	if report == nil {
		return pkgerrors.New("storage: report nil")
	}
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, report); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, fmt.Sprintf("%s write failed", sink.Name())))
			continue
		}
		m.logger.Info().Str("sink", sink.Name()).Int("total_apks", report.TotalAPKs).Msg("results written")
	}
	return errors.Join(errs...)
}

func (m *Manager) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, fmt.Sprintf("%s close failed", sink.Name())))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Name() string {
	if m == nil || m.name == "" {
		return "storage"
	}
	return m.name
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "storage: create dir %s failed", dir)
	}
	return nil
}
