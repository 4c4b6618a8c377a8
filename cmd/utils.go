package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var logFile *os.File

// setupLogger writes to stderr and, when path can be opened, to path as well.
// A log file that cannot be opened only produces a warning.
func setupLogger(path string, debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	var openErr error
	if path = strings.TrimSpace(path); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			openErr = err
		} else if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			openErr = err
		} else {
			logFile = f
			writers = append(writers, f)
		}
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	if openErr != nil {
		log.Warn().Err(openErr).Str("log_file", path).Msg("log file unavailable, logging to stderr only")
	}
}

func closeLogFile() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
