package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/upstream/internal/config"
	"github.com/JonMunkholm/upstream/internal/logging"
)

// Commands with this annotation fail early when configuration is invalid.
const annotationNeedsConfig = "needs-config"

// app holds state shared by every command of one invocation.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	cfgErr error
	logs   io.Closer
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "upstream",
		Short: "Upload environmental sensor data to Upstream",
		Long: `Validates sensor and measurement CSV files, splits large measurement
files into chunks, and uploads them to an Upstream campaign station.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file (env vars take precedence)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: text, json")

	root.AddCommand(
		newUploadCmd(a),
		newValidateCmd(a),
		newSplitCmd(a),
		newSensorsCmd(a),
		newHistoryCmd(a),
	)
	return root
}

// setup loads configuration and installs the logger. Local commands still
// run when the configuration is incomplete.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.cfg, a.cfgErr = config.LoadFile(a.configPath)

	level, format, file := "info", "text", ""
	if a.cfg != nil {
		level, format, file = a.cfg.Logging.Level, a.cfg.Logging.Format, a.cfg.Logging.File
	}
	if a.logLevel != "" {
		level = a.logLevel
	}
	if a.logFormat != "" {
		format = a.logFormat
	}

	closer, err := logging.Setup(level, format, file)
	if err != nil {
		return err
	}
	a.logs = closer

	if a.cfgErr != nil {
		if cmd.Annotations[annotationNeedsConfig] == "true" {
			return a.cfgErr
		}
		slog.Debug("configuration not loaded", "error", a.cfgErr)
		return nil
	}

	slog.Debug("configuration loaded", "config", a.cfg.String())
	return nil
}

// execute runs one invocation. The log file opened by setup is closed on
// every path, including command failures.
func (a *app) execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.logs != nil {
		if cerr := a.logs.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close log file: %w", cerr)
		}
	}
	return err
}

func needsConfig() map[string]string {
	return map[string]string{annotationNeedsConfig: "true"}
}
