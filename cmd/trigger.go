package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/httprunner/provisioner/internal/config"
	"github.com/httprunner/provisioner/pkg/gateway"
	"github.com/httprunner/provisioner/pkg/trigger"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var signalNames = map[string]os.Signal{
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
	"SIGHUP":  syscall.SIGHUP,
}

func newTriggerCmd() *cobra.Command {
	var (
		flagFile           string
		flagSignals        []string
		flagPollInterval   time.Duration
		flagTimeout        time.Duration
		flagCommandTimeout time.Duration
		flagConsume        bool
	)

	cmd := &cobra.Command{
		Use:   "trigger [flags] -- command [args...]",
		Short: "Wait for a trigger file or signal, then run a command once",
		Long:  "Blocks until the trigger file exists or a watched signal arrives, then runs the command and exits with its exit code.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signals, err := parseSignals(flagSignals)
			if err != nil {
				return err
			}
			runner, err := trigger.New(trigger.Config{
				File:         strings.TrimSpace(flagFile),
				Signals:      signals,
				Consume:      flagConsume,
				PollInterval: flagPollInterval,
				Timeout:      flagTimeout,
				Command: gateway.Command{
					Name:    args[0],
					Args:    args[1:],
					Timeout: flagCommandTimeout,
				},
			}, gateway.NewExecRunner(log.Logger), log.Logger)
			if err != nil {
				return err
			}
			res, err := runner.Run(cmd.Context())
			exitCode = res.ExitCode
			if err != nil {
				log.Debug().Err(err).Msg("trigger finished with error")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagFile, "file", config.String("TRIGGER_FILE", ""), "trigger file whose existence opens the gate")
	cmd.Flags().StringSliceVar(&flagSignals, "signal", []string{"SIGUSR1"}, "signals that open the gate (SIGUSR1, SIGUSR2, SIGHUP)")
	cmd.Flags().DurationVar(&flagPollInterval, "poll-interval", config.Duration("TRIGGER_POLL_INTERVAL", trigger.DefaultPollInterval), "interval between trigger checks")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", config.Duration("TRIGGER_TIMEOUT", 0), "maximum wait for the trigger; 0 waits forever")
	cmd.Flags().DurationVar(&flagCommandTimeout, "command-timeout", config.Duration("TRIGGER_COMMAND_TIMEOUT", 0), "timeout for the command; 0 disables")
	cmd.Flags().BoolVar(&flagConsume, "consume", config.Bool("TRIGGER_CONSUME", false), "remove the trigger file after it fired")
	return cmd
}

func parseSignals(names []string) ([]os.Signal, error) {
	signals := make([]os.Signal, 0, len(names))
	for _, name := range names {
		key := strings.ToUpper(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if !strings.HasPrefix(key, "SIG") {
			key = "SIG" + key
		}
		sig, ok := signalNames[key]
		if !ok {
			return nil, fmt.Errorf("unsupported signal %q", name)
		}
		signals = append(signals, sig)
	}
	return signals, nil
}
