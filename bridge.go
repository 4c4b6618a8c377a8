package provisioner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/httprunner/provisioner/pkg/gateway"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// InstallSuccessMarker is what adb prints on stdout after a successful
	// install. The tool does not document this output and localized or future
	// variants are not recognized; ClassifyInstall is the only place it is used.
	InstallSuccessMarker = "Success"

	serverListMarker     = "List of devices"
	serverStartedMarker  = "daemon started successfully"
	serverRunningMarker  = "already running"
	defaultProbeTimeout  = 5 * time.Second
	defaultADBServerHost = "127.0.0.1"
	defaultADBServerPort = "5037"
)

// ServerProbe selects how bridge-server availability is detected.
type ServerProbe string

const (
	// ProbeDevices runs `adb devices` and looks for the list header.
	ProbeDevices ServerProbe = "devices"
	// ProbeStartServer runs `adb start-server` and looks for the daemon banner.
	ProbeStartServer ServerProbe = "start-server"
)

// ParseServerProbe validates a probe mode string; empty selects ProbeDevices.
func ParseServerProbe(raw string) (ServerProbe, error) {
	switch ServerProbe(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ProbeDevices:
		return ProbeDevices, nil
	case ProbeStartServer:
		return ProbeStartServer, nil
	default:
		return "", errors.Errorf("unknown server probe %q (want devices or start-server)", raw)
	}
}

// ToolProbe checks that the bridge tool exists and its server answers.
type ToolProbe interface {
	CheckAvailable(ctx context.Context) error
	ProbeServer(ctx context.Context, mode ServerProbe) bool
}

// DeviceLister returns serials of attached devices ready for commands.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]string, error)
}

// Installer performs install and uninstall against one device.
type Installer interface {
	Install(ctx context.Context, device, path string) OperationOutcome
	Uninstall(ctx context.Context, device, identity string) OperationOutcome
}

// BridgeConfig configures ADBBridge.
type BridgeConfig struct {
	Bin            string
	ServerHost     string
	ServerPort     string
	InstallTimeout time.Duration
	ProbeTimeout   time.Duration
}

// ADBBridge drives the adb binary through a gateway.Runner.
type ADBBridge struct {
	runner gateway.Runner
	cfg    BridgeConfig
	logger zerolog.Logger
}

// NewADBBridge builds a bridge; empty config fields take adb defaults.
func NewADBBridge(runner gateway.Runner, cfg BridgeConfig, logger zerolog.Logger) *ADBBridge {
	if strings.TrimSpace(cfg.Bin) == "" {
		cfg.Bin = "adb"
	}
	if strings.TrimSpace(cfg.ServerHost) == "" {
		cfg.ServerHost = defaultADBServerHost
	}
	if strings.TrimSpace(cfg.ServerPort) == "" {
		cfg.ServerPort = defaultADBServerPort
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	return &ADBBridge{runner: runner, cfg: cfg, logger: logger}
}

// ServerAddr returns host:port of the adb server the bridge talks to.
func (b *ADBBridge) ServerAddr() string {
	return b.cfg.ServerHost + ":" + b.cfg.ServerPort
}

func (b *ADBBridge) command(device string, timeout time.Duration, args ...string) gateway.Command {
	full := make([]string, 0, len(args)+2)
	if device != "" {
		full = append(full, "-s", device)
	}
	full = append(full, args...)
	return gateway.Command{
		Name:    b.cfg.Bin,
		Args:    full,
		Timeout: timeout,
		Env: []string{
			"ANDROID_ADB_SERVER_HOST=" + b.cfg.ServerHost,
			"ANDROID_ADB_SERVER_PORT=" + b.cfg.ServerPort,
		},
	}
}

// CheckAvailable runs `adb version` once, without a timeout. Any failure wraps
// ErrToolUnavailable.
func (b *ADBBridge) CheckAvailable(ctx context.Context) error {
	res, err := b.runner.Run(ctx, b.command("", 0, "version"))
	if err != nil {
		return errors.Wrapf(ErrToolUnavailable, "%s version: %v", b.cfg.Bin, err)
	}
	if !res.Succeeded() {
		return errors.Wrapf(ErrToolUnavailable, "%s version exited %d: %s",
			b.cfg.Bin, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	b.logger.Debug().Str("version", firstLine(res.Stdout)).Msg("adb available")
	return nil
}

// ProbeServer reports whether the adb server answered according to mode.
func (b *ADBBridge) ProbeServer(ctx context.Context, mode ServerProbe) bool {
	if mode == ProbeStartServer {
		res, err := b.runner.Run(ctx, b.command("", b.cfg.ProbeTimeout, "start-server"))
		if err != nil {
			b.logger.Warn().Err(err).Msg("error starting adb server")
			return false
		}
		return strings.Contains(res.Stdout, serverStartedMarker) || strings.Contains(res.Stderr, serverRunningMarker)
	}
	res, err := b.runner.Run(ctx, b.command("", b.cfg.ProbeTimeout, "devices"))
	if err != nil {
		b.logger.Warn().Err(err).Str("server", b.ServerAddr()).Msg("error connecting to adb server")
		return false
	}
	b.logger.Debug().Str("stdout", res.Stdout).Str("stderr", res.Stderr).Msg("adb devices output")
	return strings.Contains(res.Stdout, serverListMarker)
}

// ListDevices runs `adb devices` and returns serials in the `device` state.
// A failed invocation yields an empty list so callers keep polling.
func (b *ADBBridge) ListDevices(ctx context.Context) ([]string, error) {
	res, err := b.runner.Run(ctx, b.command("", b.cfg.ProbeTimeout, "devices"))
	if err != nil {
		b.logger.Error().Err(err).Msg("error getting device list")
		return nil, nil
	}
	if !res.Succeeded() {
		b.logger.Error().Int("exit_code", res.ExitCode).Str("stderr", strings.TrimSpace(res.Stderr)).Msg("error getting device list")
		return nil, nil
	}
	return ParseDeviceList(res.Stdout), nil
}

// ParseDeviceList extracts serials from `adb devices` output, skipping the
// header and any entry not in the `device` state.
func ParseDeviceList(out string) []string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) <= 1 {
		return nil
	}
	devices := make([]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || !strings.Contains(line, "\tdevice") {
			continue
		}
		serial := strings.TrimSpace(strings.SplitN(line, "\t", 2)[0])
		if serial != "" {
			devices = append(devices, serial)
		}
	}
	return devices
}

// Install runs `adb -s <device> install -r -d <path>`.
func (b *ADBBridge) Install(ctx context.Context, device, path string) OperationOutcome {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		b.logger.Error().Str("path", path).Msg("APK file not found")
		return OperationOutcome{Succeeded: false, Message: "APK file not found"}
	}
	b.logger.Info().Str("device", device).Str("path", path).Msg("installing APK")
	res, err := b.runner.Run(ctx, b.command(device, b.cfg.InstallTimeout, "install", "-r", "-d", path))
	outcome := ClassifyInstall(res, err)
	if outcome.Succeeded {
		b.logger.Info().Str("device", device).Str("path", path).Msg("installed APK")
	} else {
		b.logger.Error().Str("device", device).Str("path", path).Int("exit_code", res.ExitCode).
			Str("diagnostic", outcome.Message).Msg("installation failed")
	}
	return outcome
}

// ClassifyInstall decides whether an install invocation succeeded: exit code
// zero and InstallSuccessMarker on stdout. On failure the message is stderr,
// falling back to stdout, then to the gateway error.
func ClassifyInstall(res gateway.Result, err error) OperationOutcome {
	if err != nil {
		return OperationOutcome{Succeeded: false, Message: fmt.Sprintf("Error installing APK: %v", err)}
	}
	if res.ExitCode == 0 && strings.Contains(res.Stdout, InstallSuccessMarker) {
		return OperationOutcome{Succeeded: true, Message: "Installation successful"}
	}
	return OperationOutcome{Succeeded: false, Message: diagnostic(res)}
}

// Uninstall runs `adb -s <device> uninstall <identity>`. Only the exit code
// decides success; a package that was never installed simply fails.
func (b *ADBBridge) Uninstall(ctx context.Context, device, identity string) OperationOutcome {
	if strings.TrimSpace(identity) == "" {
		return OperationOutcome{Succeeded: false, Message: "No package name provided"}
	}
	b.logger.Info().Str("device", device).Str("package", identity).Msg("uninstalling package")
	res, err := b.runner.Run(ctx, b.command(device, b.cfg.InstallTimeout, "uninstall", identity))
	if err != nil {
		b.logger.Error().Err(err).Str("package", identity).Msg("error uninstalling package")
		return OperationOutcome{Succeeded: false, Message: fmt.Sprintf("Error uninstalling package: %v", err)}
	}
	if !res.Succeeded() {
		msg := diagnostic(res)
		b.logger.Warn().Str("package", identity).Int("exit_code", res.ExitCode).Str("diagnostic", msg).Msg("uninstall failed")
		return OperationOutcome{Succeeded: false, Message: msg}
	}
	b.logger.Info().Str("package", identity).Msg("uninstalled package")
	return OperationOutcome{Succeeded: true, Message: "Uninstall successful"}
}

func diagnostic(res gateway.Result) string {
	if msg := strings.TrimSpace(res.Stderr); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(res.Stdout); msg != "" {
		return msg
	}
	return fmt.Sprintf("exit code %d", res.ExitCode)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}
