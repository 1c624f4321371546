// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command signaltree diffs, patches and replays JSON/YAML documents with
// the signaltree engines.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/signaltree/pkg/logging"
	"github.com/AleutianAI/signaltree/pkg/ux"
	"github.com/AleutianAI/signaltree/services/tree/config"
	"github.com/AleutianAI/signaltree/services/tree/telemetry"
)

// Set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 2
)

// app holds global flag values and the state built from them before any
// subcommand runs.
type app struct {
	configPath     string
	logLevel       string
	logJSON        bool
	traceExporter  string
	metricExporter string
	colorFlag      string

	color    ux.ColorMode
	cfg      config.Config
	logger   *logging.Logger
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "signaltree",
		Short: "Diff, patch and replay nested documents",
		Long: `signaltree works on JSON and YAML documents using the signaltree engines.

Commands:
  diff     - Show structural changes between two documents
  patch    - Apply a JSON change list to a document
  replay   - Write documents into a time-travel tree and show its history
  watch    - Print changes to a file as it is edited
  version  - Print version information

Configuration is read from --config, or from $SIGNALTREE_CONFIG.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.BoolVar(&a.logJSON, "log-json", false, "log as JSON")
	flags.StringVar(&a.traceExporter, "trace", telemetry.ExporterNone,
		"trace exporter ("+strings.Join(append([]string{telemetry.ExporterNone}, telemetry.TraceExporters()...), ", ")+")")
	flags.StringVar(&a.metricExporter, "metrics", telemetry.ExporterNone,
		"metric exporter ("+strings.Join(append([]string{telemetry.ExporterNone}, telemetry.MetricExporters()...), ", ")+")")
	flags.StringVar(&a.colorFlag, "color", "auto", "color output (auto, always, never)")

	root.AddCommand(
		newDiffCmd(a),
		newPatchCmd(a),
		newReplayCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads config, installs the logger and starts telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(ctx, config.ResolvePath(a.configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Logging.JSON = a.logJSON
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if a.color, err = ux.ParseColorMode(a.colorFlag); err != nil {
		return err
	}

	lc := cfg.LoggerConfig("signaltree")
	lc.Writer = cmd.ErrOrStderr()
	a.logger = logging.New(lc)
	a.logger.SetDefault()

	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.TraceExporter = a.traceExporter
	tc.MetricExporter = a.metricExporter
	tc.Writer = cmd.ErrOrStderr()
	shutdown, err := telemetry.Init(ctx, tc)
	if err != nil {
		return err
	}
	a.shutdown = shutdown

	a.logger.Debug("configuration loaded",
		"config", a.configPath,
		"time_travel", cfg.TimeTravel.Enabled,
		"path_index", cfg.PathIndex.Enabled,
	)
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	if a.shutdown != nil {
		err = a.shutdown(ctx)
	}
	if a.logger != nil {
		if cerr := a.logger.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "signaltree %s (commit %s, %s)\n", version, commit, runtime.Version())
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}
