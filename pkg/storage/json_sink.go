package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/httprunner/provisioner"
	pkgerrors "github.com/pkg/errors"
)

// JSONFileSink overwrites one file with the indented report on every write.
type JSONFileSink struct {
	path string
	mu   sync.Mutex
}

func NewJSONFileSink(path string) *JSONFileSink {
	return &JSONFileSink{path: strings.TrimSpace(path)}
}

func (j *JSONFileSink) Write(_ context.Context, report *provisioner.RunReport) error {
	if j == nil || j.path == "" {
		return pkgerrors.New("storage: json path is empty")
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "storage: marshal report failed")
	}
	payload = append(payload, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := ensureDir(filepath.Dir(j.path)); err != nil {
		return err
	}
	// replace atomically
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return pkgerrors.Wrap(err, "storage: write json report failed")
	}
	if err := os.Rename(tmp, j.path); err != nil {
		os.Remove(tmp)
		return pkgerrors.Wrap(err, "storage: replace json report failed")
	}
	return nil
}

func (j *JSONFileSink) Close() error { return nil }

func (j *JSONFileSink) Name() string {
	if j == nil || j.path == "" {
		return "json"
	}
	return j.path
}
