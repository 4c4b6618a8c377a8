package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/httprunner/provisioner"
	"github.com/httprunner/provisioner/internal/config"
	"github.com/httprunner/provisioner/internal/providers/adb"
	"github.com/httprunner/provisioner/pkg/feishu"
	"github.com/httprunner/provisioner/pkg/gateway"
	"github.com/httprunner/provisioner/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	bridgeCLI    = "cli"
	bridgeSocket = "socket"
)

type installFlags struct {
	dir            string
	device         string
	deviceWait     int
	serverWait     int
	pollInterval   time.Duration
	uninstall      bool
	output         string
	sqlitePath     string
	workload       string
	adbBin         string
	aaptBin        string
	serverProbe    string
	bridge         string
	installTimeout time.Duration
}

func newInstallCmd() *cobra.Command {
	var flags installFlags

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install every APK in a directory onto the attached device",
		Long:  "Waits for adb, its server and a device, then uninstalls (optionally) and installs each APK in name order and writes the results report.",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runInstall(cmd.Context(), flags, log.Logger)
			exitCode = code
			return err
		},
	}

	cmd.Flags().StringVarP(&flags.dir, "dir", "d", config.String("PROVISION_DIR", provisioner.DefaultDir), "directory containing APK files")
	cmd.Flags().StringVarP(&flags.device, "device", "s", config.String("PROVISION_DEVICE", ""), "device serial; defaults to the first attached device")
	cmd.Flags().IntVarP(&flags.deviceWait, "wait", "w", seconds("PROVISION_DEVICE_WAIT", provisioner.DefaultDeviceWait), "maximum seconds to wait for a device")
	cmd.Flags().IntVar(&flags.serverWait, "server-wait", seconds("PROVISION_SERVER_WAIT", provisioner.DefaultServerWait), "maximum seconds to wait for the adb server")
	cmd.Flags().DurationVar(&flags.pollInterval, "poll-interval", config.Duration("PROVISION_POLL_INTERVAL", provisioner.DefaultPollInterval), "interval between readiness checks")
	cmd.Flags().BoolVarP(&flags.uninstall, "uninstall", "u", config.Bool("PROVISION_UNINSTALL", false), "uninstall each package before installing it")
	cmd.Flags().StringVarP(&flags.output, "output", "o", config.String("PROVISION_OUTPUT", provisioner.DefaultOutput), "JSON results file")
	cmd.Flags().StringVar(&flags.sqlitePath, "sqlite", config.String("PROVISION_SQLITE_PATH", ""), "also store the latest results in this SQLite database")
	cmd.Flags().StringVar(&flags.workload, "workload-name", config.String("WORKLOAD_NAME", provisioner.DefaultWorkload), "workload name used for status updates")
	cmd.Flags().StringVar(&flags.adbBin, "adb", config.String("ADB_BIN", ""), "adb binary (default: adb from PATH)")
	cmd.Flags().StringVar(&flags.aaptBin, "aapt", config.String("AAPT_BIN", ""), "aapt binary (default: aapt from PATH)")
	cmd.Flags().StringVar(&flags.serverProbe, "server-probe", config.String("PROVISION_SERVER_PROBE", ""), "adb server probe: devices or start-server")
	cmd.Flags().StringVar(&flags.bridge, "bridge", config.String("PROVISION_BRIDGE", ""), "device listing transport: cli or socket")
	cmd.Flags().DurationVar(&flags.installTimeout, "install-timeout", config.Duration("PROVISION_INSTALL_TIMEOUT", 0), "per install/uninstall timeout; 0 disables")
	return cmd
}

func runInstall(ctx context.Context, flags installFlags, logger zerolog.Logger) (int, error) {
	probe, err := provisioner.ParseServerProbe(flags.serverProbe)
	if err != nil {
		return 1, err
	}
	serverHost, serverPort := adbServer()

	runner := gateway.NewExecRunner(logger)
	bridge := provisioner.NewADBBridge(runner, provisioner.BridgeConfig{
		Bin:            flags.adbBin,
		ServerHost:     serverHost,
		ServerPort:     serverPort,
		InstallTimeout: flags.installTimeout,
	}, logger)
	logger.Info().Str("server", bridge.ServerAddr()).Msg("using adb server")

	var devices provisioner.DeviceLister = bridge
	switch mode := strings.ToLower(firstNonEmpty(flags.bridge, bridgeCLI)); mode {
	case bridgeCLI:
	case bridgeSocket:
		devices = adb.NewLazy(serverHost, serverPort)
	default:
		return 1, fmt.Errorf("unknown bridge %q (want %s or %s)", flags.bridge, bridgeCLI, bridgeSocket)
	}

	var reports provisioner.ReportWriter
	if manager := openReports(flags, logger); manager != nil {
		defer manager.Close()
		reports = manager
	}

	p, err := provisioner.New(provisioner.Options{
		Config: provisioner.Config{
			Dir:            flags.dir,
			Device:         flags.device,
			DeviceWait:     time.Duration(flags.deviceWait) * time.Second,
			ServerWait:     time.Duration(flags.serverWait) * time.Second,
			PollInterval:   flags.pollInterval,
			ServerProbe:    probe,
			UninstallFirst: flags.uninstall,
			Workload:       flags.workload,
		},
		Tool:      bridge,
		Devices:   devices,
		Installer: bridge,
		Inspector: provisioner.NewAAPTInspector(runner, flags.aaptBin, logger),
		Reports:   reports,
		Status:    statusReporter(logger),
		Logger:    logger,
	})
	if err != nil {
		return 1, err
	}

	outcome, err := p.Run(ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("provisioning aborted")
	}
	logger.Info().Str("state", string(outcome.State)).Int("exit_code", outcome.ExitCode()).Msg("provisioning finished")
	return outcome.ExitCode(), nil
}

// openReports builds the result sinks. With no usable sink the run goes
// ahead without storing a report.
func openReports(flags installFlags, logger zerolog.Logger) *storage.Manager {
	manager, err := storage.NewManager(storage.Config{JSONPath: flags.output, SQLitePath: flags.sqlitePath}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("results will not be stored")
		return nil
	}
	return manager
}

// adbServer returns the adb server address; a non-numeric port falls back to
// the adb default.
func adbServer() (host, port string) {
	host = config.String("ADB_SERVER_HOST", "127.0.0.1")
	port = strconv.Itoa(config.Int("ADB_SERVER_PORT", 5037))
	return host, port
}

func seconds(key string, fallback time.Duration) int {
	return int(config.Seconds(key, fallback) / time.Second)
}

func statusReporter(logger zerolog.Logger) provisioner.StatusReporter {
	reporter, err := feishu.NewReporterFromEnv(logger)
	if err != nil {
		logger.Warn().Err(err).Msg("feishu status reporter misconfigured, status updates are logged only")
		return provisioner.NoopReporter{Logger: logger}
	}
	if reporter == nil {
		return provisioner.NoopReporter{Logger: logger}
	}
	return reporter
}
