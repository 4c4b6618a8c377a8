package provisioner

import (
	"context"
	"strings"
	"time"

	"github.com/httprunner/provisioner/pkg/readiness"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	// ErrToolUnavailable means the device-bridge binary is missing or broken.
	ErrToolUnavailable = errors.New("device bridge tool unavailable")
	// ErrDirectoryNotFound means the provisioning directory does not exist.
	ErrDirectoryNotFound = errors.New("directory not found")
	// ErrNoPackages means the provisioning directory held no package files.
	ErrNoPackages = errors.New("no package files found")
)

// Defaults mirrored by the CLI.
const (
	DefaultDir          = "/app/provisioning"
	DefaultOutput       = "/var/log/installation_results.json"
	DefaultWorkload     = "apk_installer"
	DefaultDeviceWait   = 60 * time.Second
	DefaultServerWait   = 30 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// Config controls one provisioning run.
type Config struct {
	Dir string
	// Device selects a specific serial; empty takes the first attached device.
	Device         string
	DeviceWait     time.Duration
	ServerWait     time.Duration
	PollInterval   time.Duration
	ServerProbe    ServerProbe
	UninstallFirst bool
	Workload       string
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Dir) == "" {
		c.Dir = DefaultDir
	}
	if c.DeviceWait <= 0 {
		c.DeviceWait = DefaultDeviceWait
	}
	if c.ServerWait <= 0 {
		c.ServerWait = DefaultServerWait
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ServerProbe == "" {
		c.ServerProbe = ProbeDevices
	}
	if strings.TrimSpace(c.Workload) == "" {
		c.Workload = DefaultWorkload
	}
}

// ReportWriter persists the final report.
type ReportWriter interface {
	Write(ctx context.Context, report *RunReport) error
}

// Options wires the collaborators of a Provisioner. Tool, Devices, Installer
// and Inspector are required.
type Options struct {
	Config    Config
	Tool      ToolProbe
	Devices   DeviceLister
	Installer Installer
	Inspector PackageInspector
	Reports   ReportWriter
	Status    StatusReporter
	Clock     readiness.Clock
	Logger    zerolog.Logger
}

// Outcome is the final state of a run.
type Outcome struct {
	Classification Classification
	State          WorkloadState
	Device         string
	// Report is nil when the run aborted before enumeration.
	Report *RunReport
}

// ExitCode is the process exit code for the outcome.
func (o Outcome) ExitCode() int {
	if o.State == WorkloadSucceeded {
		return 0
	}
	return 1
}

// Provisioner runs readiness gates, installs every package and reports.
type Provisioner struct {
	cfg       Config
	tool      ToolProbe
	devices   DeviceLister
	installer Installer
	inspector PackageInspector
	reports   ReportWriter
	status    StatusReporter
	clock     readiness.Clock
	logger    zerolog.Logger
}

// New validates opts and builds a Provisioner.
func New(opts Options) (*Provisioner, error) {
	if opts.Tool == nil || opts.Devices == nil || opts.Installer == nil || opts.Inspector == nil {
		return nil, errors.New("provisioner: tool, devices, installer and inspector are required")
	}
	cfg := opts.Config
	cfg.applyDefaults()
	status := opts.Status
	if status == nil {
		status = NoopReporter{Logger: opts.Logger}
	}
	clock := opts.Clock
	if clock == nil {
		clock = readiness.SystemClock{}
	}
	return &Provisioner{
		cfg:       cfg,
		tool:      opts.Tool,
		devices:   opts.Devices,
		installer: opts.Installer,
		inspector: opts.Inspector,
		reports:   opts.Reports,
		status:    status,
		clock:     clock,
		logger:    opts.Logger,
	}, nil
}

// Run executes one provisioning run. The returned error is non-nil only for
// fatal conditions (tool unavailable, readiness timeout, no packages); install
// failures are carried in the report.
func (p *Provisioner) Run(ctx context.Context) (Outcome, error) {
	p.logger.Info().Str("dir", p.cfg.Dir).Str("device", p.cfg.Device).Bool("uninstall", p.cfg.UninstallFirst).
		Msg("looking for APKs")

	if err := p.tool.CheckAvailable(ctx); err != nil {
		p.logger.Error().Err(err).Msg("adb command not found, ensure Android SDK platform-tools are installed and in PATH")
		return p.abort(ctx, "", nil, err)
	}

	_, err := readiness.Await(ctx, readiness.Policy{
		Name:     "adb server",
		Interval: p.cfg.PollInterval,
		Timeout:  p.cfg.ServerWait,
		Clock:    p.clock,
		Logger:   p.logger,
	}, func(ctx context.Context) (struct{}, bool) {
		return struct{}{}, p.tool.ProbeServer(ctx, p.cfg.ServerProbe)
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("timed out waiting for adb server")
		return p.abort(ctx, "", nil, err)
	}
	p.logger.Info().Msg("adb server is running")

	device, err := readiness.Await(ctx, readiness.Policy{
		Name:     "device",
		Interval: p.cfg.PollInterval,
		Timeout:  p.cfg.DeviceWait,
		Clock:    p.clock,
		Logger:   p.logger,
	}, p.deviceCheck)
	if err != nil {
		p.logger.Error().Err(err).Str("requested", p.cfg.Device).Msg("timed out waiting for device")
		return p.abort(ctx, "", nil, err)
	}
	p.logger.Info().Str("device", device).Msg("device is connected")

	paths, err := Enumerate(p.cfg.Dir)
	if err != nil {
		p.logger.Error().Err(err).Msg("package enumeration failed")
	}
	p.logger.Info().Int("count", len(paths)).Str("dir", p.cfg.Dir).Msg("found APK file(s)")
	if len(paths) == 0 {
		report := NewRunReport(p.clock.Now(), device, 0)
		p.persist(ctx, report)
		cause := ErrNoPackages
		if err != nil {
			cause = errors.Wrap(ErrNoPackages, err.Error())
		}
		p.logger.Error().Str("dir", p.cfg.Dir).Msg("no APK files found in directory")
		return p.abort(ctx, device, report, cause)
	}

	report := NewRunReport(p.clock.Now(), device, len(paths))
	NewSequencer(p.installer, p.inspector, p.cfg.UninstallFirst, p.logger).Run(ctx, device, paths, report)
	p.persist(ctx, report)

	class := Classify(report.TotalAPKs, report.SuccessCount)
	p.logger.Info().Int("success", report.SuccessCount).Int("total", report.TotalAPKs).
		Msg("installation complete")
	if class == ClassPartial {
		p.logger.Warn().Int("success", report.SuccessCount).Int("total", report.TotalAPKs).
			Msg("partial success, some APKs failed to install")
	}
	outcome := Outcome{Classification: class, State: class.WorkloadState(), Device: device, Report: report}
	p.pushState(ctx, outcome.State)
	return outcome, nil
}

// deviceCheck treats an empty list, a listing error and a missing requested
// serial alike: not ready yet.
func (p *Provisioner) deviceCheck(ctx context.Context) (string, bool) {
	devices, err := p.devices.ListDevices(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("list devices failed")
		return "", false
	}
	return SelectDevice(devices, p.cfg.Device)
}

// SelectDevice picks requested from devices, or the first device when
// requested is empty.
func SelectDevice(devices []string, requested string) (string, bool) {
	if len(devices) == 0 {
		return "", false
	}
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return devices[0], true
	}
	for _, d := range devices {
		if d == requested {
			return d, true
		}
	}
	return "", false
}

func (p *Provisioner) abort(ctx context.Context, device string, report *RunReport, cause error) (Outcome, error) {
	p.pushState(ctx, WorkloadFailed)
	return Outcome{Classification: ClassFailed, State: WorkloadFailed, Device: device, Report: report}, cause
}

func (p *Provisioner) persist(ctx context.Context, report *RunReport) {
	if p.reports == nil {
		return
	}
	if err := p.reports.Write(ctx, report); err != nil {
		p.logger.Error().Err(err).Msg("error writing results")
	}
}

func (p *Provisioner) pushState(ctx context.Context, state WorkloadState) {
	if err := p.status.UpdateWorkloadState(ctx, p.cfg.Workload, state); err != nil {
		p.logger.Error().Err(err).Str("workload", p.cfg.Workload).Str("state", string(state)).
			Msg("failed to update workload state")
		return
	}
	p.logger.Info().Str("workload", p.cfg.Workload).Str("state", string(state)).Msg("updated workload state")
}
