package provisioner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/httprunner/provisioner/pkg/gateway"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// PackageExt is the file extension of installable packages.
const PackageExt = ".apk"

// PackageInspector builds a descriptor for a package file. It never fails;
// missing metadata leaves the declared fields nil.
type PackageInspector interface {
	Inspect(ctx context.Context, path string) PackageDescriptor
}

// Enumerate lists package files directly inside dir, sorted by name.
func Enumerate(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errors.Wrapf(ErrDirectoryNotFound, "%s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read directory %s", dir)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != PackageExt {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// AAPTInspector reads package metadata with `aapt dump badging`.
type AAPTInspector struct {
	runner  gateway.Runner
	bin     string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewAAPTInspector builds an inspector; an empty bin selects "aapt".
func NewAAPTInspector(runner gateway.Runner, bin string, logger zerolog.Logger) *AAPTInspector {
	if strings.TrimSpace(bin) == "" {
		bin = "aapt"
	}
	return &AAPTInspector{runner: runner, bin: bin, timeout: 30 * time.Second, logger: logger}
}

// Inspect returns the descriptor for path, degraded to path, name and size
// when aapt is missing, fails, or prints nothing recognizable.
func (i *AAPTInspector) Inspect(ctx context.Context, path string) PackageDescriptor {
	desc := PackageDescriptor{Path: path, FileName: filepath.Base(path)}
	if info, err := os.Stat(path); err == nil {
		desc.Size = info.Size()
	}
	res, err := i.runner.Run(ctx, gateway.Command{
		Name:    i.bin,
		Args:    []string{"dump", "badging", path},
		Timeout: i.timeout,
	})
	if err != nil || !res.Succeeded() {
		i.logger.Warn().Err(err).Str("path", path).Int("exit_code", res.ExitCode).
			Msg("could not get detailed package info, aapt not available")
		return desc
	}
	if !ParseBadging(res.Stdout, &desc) {
		i.logger.Warn().Str("path", path).Msg("aapt output had no package metadata")
	}
	return desc
}

// ParseBadging fills the declared fields of desc from `aapt dump badging`
// output and reports whether anything was found.
func ParseBadging(out string, desc *PackageDescriptor) bool {
	found := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "package:"):
			for _, item := range strings.Fields(strings.TrimPrefix(line, "package:")) {
				key, val, ok := splitQuoted(item)
				if !ok {
					continue
				}
				switch key {
				case "name":
					desc.Package = strPtr(val)
				case "versionName":
					desc.VersionName = strPtr(val)
				case "versionCode":
					desc.VersionCode = strPtr(val)
				default:
					continue
				}
				found = true
			}
		case strings.HasPrefix(line, "sdkVersion:"):
			if val, ok := quoted(strings.TrimPrefix(line, "sdkVersion:")); ok {
				desc.SDK.Min = strPtr(val)
				found = true
			}
		case strings.HasPrefix(line, "targetSdkVersion:"):
			if val, ok := quoted(strings.TrimPrefix(line, "targetSdkVersion:")); ok {
				desc.SDK.Target = strPtr(val)
				found = true
			}
		}
	}
	return found
}

// splitQuoted splits key='value' (or key="value").
func splitQuoted(item string) (key, val string, ok bool) {
	idx := strings.IndexByte(item, '=')
	if idx <= 0 {
		return "", "", false
	}
	val, ok = quoted(item[idx+1:])
	return item[:idx], val, ok
}

func quoted(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return "", false
	}
	q := s[0]
	if q != '\'' && q != '"' {
		return "", false
	}
	end := strings.IndexByte(s[1:], q)
	if end < 0 {
		return "", false
	}
	return s[1 : 1+end], true
}

func strPtr(s string) *string {
	return &s
}
