package provisioner

import (
	"context"

	"github.com/rs/zerolog"
)

// Sequencer installs packages one at a time, in order, on a single device.
type Sequencer struct {
	installer      Installer
	inspector      PackageInspector
	uninstallFirst bool
	logger         zerolog.Logger
}

// NewSequencer builds a Sequencer. With uninstallFirst set, every package with
// a known identity is uninstalled before it is installed.
func NewSequencer(installer Installer, inspector PackageInspector, uninstallFirst bool, logger zerolog.Logger) *Sequencer {
	return &Sequencer{
		installer:      installer,
		inspector:      inspector,
		uninstallFirst: uninstallFirst,
		logger:         logger,
	}
}

// Run processes paths against device and appends one record per path to
// report. Failures are recorded, never returned; there are no retries.
func (s *Sequencer) Run(ctx context.Context, device string, paths []string, report *RunReport) {
	for idx, path := range paths {
		rec := InstallationRecord{APK: s.inspector.Inspect(ctx, path)}
		logger := s.logger.With().
			Str("apk", rec.APK.FileName).
			Int("index", idx+1).
			Int("total", len(paths)).
			Logger()

		if identity := rec.APK.Identity(); s.uninstallFirst && identity != "" {
			outcome := s.installer.Uninstall(ctx, device, identity)
			rec.Uninstall = &outcome
			logger.Debug().Str("package", identity).Bool("success", outcome.Succeeded).Msg("uninstall attempted")
		} else if s.uninstallFirst {
			logger.Warn().Msg("package name unknown, skip uninstall")
		}

		rec.Install = s.installer.Install(ctx, device, path)
		report.Add(rec)
		logger.Info().Bool("success", rec.Install.Succeeded).Msg("package processed")
	}
}
