package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/httprunner/provisioner/internal/config"
	"github.com/httprunner/provisioner/internal/env"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultLogFile = "/var/log/apk_installer.log"

var rootCmd = &cobra.Command{
	Use:           "provisioner",
	Short:         "Provision Android packages onto an attached device",
	Long:          `provisioner waits for adb and a device, installs every APK found in a directory, writes a JSON report and pushes the final workload state.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger(rootLogFile, rootDebug)
		log.Info().Strs("args", os.Args[1:]).Str("command", cmd.Name()).Msg("provisioner started")
		return nil
	},
}

var (
	rootLogFile string
	rootDebug   bool

	// exitCode is set by subcommands whose outcome maps onto a process status.
	exitCode int
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	_ = env.Ensure()
	rootCmd.PersistentFlags().StringVar(&rootLogFile, "log-file",
		config.String("PROVISION_LOG_FILE", defaultLogFile), "also append logs to this file; empty disables")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", config.Bool("PROVISION_DEBUG", false), "enable debug logs")
	rootCmd.AddCommand(
		newInstallCmd(),
		newTriggerCmd(),
		newResultsCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("provisioner command failed")
		if exitCode == 0 {
			exitCode = 1
		}
	}
	closeLogFile()
	os.Exit(exitCode)
}
