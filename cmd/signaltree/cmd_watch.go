// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/signaltree/pkg/logging"
	"github.com/AleutianAI/signaltree/services/tree"
	"github.com/AleutianAI/signaltree/services/tree/diff"
	"github.com/AleutianAI/signaltree/services/tree/telemetry"
)

// defaultDebounce collapses the burst of events editors emit on save.
const defaultDebounce = 100 * time.Millisecond

type watchFlags struct {
	debounce    time.Duration
	metricsAddr string
}

func newWatchCmd(a *app) *cobra.Command {
	f := &watchFlags{}
	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Print changes to a file as it is edited",
		Long: `Load FILE into a tree, then reload it on every write and print the
changes against the previous version. Stops on interrupt.

With --metrics prometheus and --metrics-addr, /metrics is served while
watching.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			docs, err := loadDocuments(ctx, path)
			if err != nil {
				return err
			}
			t, err := tree.New(docs[0], append(tree.FromConfig(a.cfg), tree.WithLogger(a.logger.Slog()))...)
			if err != nil {
				return fmt.Errorf("create tree: %w", err)
			}
			s := &watchSession{
				t:       t,
				opts:    a.cfg.DiffOptions(),
				printer: newPrinter(cmd.OutOrStdout(), a.color),
				logger:  a.logger,
			}

			if f.metricsAddr != "" {
				stop, err := serveMetrics(a.logger, f.metricsAddr, telemetry.MetricsHandler())
				if err != nil {
					return err
				}
				defer stop()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", path)
			return s.watch(ctx, path, f.debounce)
		},
	}
	cmd.Flags().DurationVar(&f.debounce, "debounce", defaultDebounce, "wait this long after the last event before reloading")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9464")
	return cmd
}

// watchSession holds the tree a watched file is loaded into.
type watchSession struct {
	t       *tree.Tree
	opts    []diff.Option
	printer *printer
	logger  *logging.Logger
}

// update diffs doc against the tree, writes it and prints the changes.
func (s *watchSession) update(doc any) (diff.Result, error) {
	res := diff.Diff(s.t.Get(), doc, s.opts...)
	if !res.HasChanges {
		return res, nil
	}
	if err := s.t.Set(doc); err != nil {
		return res, err
	}
	fmt.Fprintf(s.printer.w, "%s version %d\n", time.Now().Format("15:04:05"), s.t.Version())
	s.printer.changes(res)
	return res, nil
}

// watch watches the directory holding path, since editors often replace
// the file rather than write it in place.
func (s *watchSession) watch(ctx context.Context, path string, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", "error", err)

		case <-timerC:
			timerC = nil
			s.reload(ctx, path)
		}
	}
}

func (s *watchSession) reload(ctx context.Context, path string) {
	doc, err := loadDocument(ctx, path)
	if err != nil {
		s.logger.Warn("reload failed", "path", path, "error", err)
		return
	}
	if _, err := s.update(doc); err != nil {
		s.logger.Error("apply reload failed", "path", path, "error", err)
	}
}

// serveMetrics binds addr and serves h on /metrics. A bind failure is
// returned before anything runs in the background.
func serveMetrics(logger *logging.Logger, addr string, h http.Handler) (stop func(), err error) {
	if h == nil {
		return nil, errors.New("--metrics-addr needs --metrics prometheus")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on metrics address: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", ln.Addr().String(), "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
