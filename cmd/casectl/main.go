// Command casectl runs the anonymization engine from the command line:
// anonymize, restore and verify files, and run detection regressions.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/raaihank/case-sentinel/internal/privacy"
)

var (
	version = "0.2.0"
	commit  = "dev"
)

// app holds what every subcommand needs once flags are parsed
type app struct {
	cfgFile  string
	logLevel string

	cfg        *config.Config
	log        *logger.Logger
	anonymizer *privacy.Anonymizer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "casectl",
		Short:        "Anonymize case records before they reach an AI service",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "configuration file (default: search ./config.yaml, ./configs/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newAnonymizeCmd(a),
		newRestoreCmd(a),
		newVerifyCmd(a),
		newRegressCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	// Logs go to stderr so stdout carries only command output.
	a.log, err = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: "console",
		Stderr: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.anonymizer, err = privacy.NewFromConfig(cfg.Privacy, a.log.WithComponent("privacy").Logger)
	return err
}

// readInput reads path, or stdin when path is empty or "-"
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
