// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pathindex

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for path index operations.
var meter = otel.Meter("signaltree.pathindex")

// Metrics for path index operations.
var (
	lookupTotal  metric.Int64Counter
	setTotal     metric.Int64Counter
	cleanupTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		lookupTotal, err = meter.Int64Counter(
			"pathindex_lookup_total",
			metric.WithDescription("Total path index lookups by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		setTotal, err = meter.Int64Counter(
			"pathindex_set_total",
			metric.WithDescription("Total handles indexed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cleanupTotal, err = meter.Int64Counter(
			"pathindex_cleanup_total",
			metric.WithDescription("Total entries pruned after their handle was collected"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordLookup(hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	lookupTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

func recordSet() {
	if err := initMetrics(); err != nil {
		return
	}
	setTotal.Add(context.Background(), 1)
}

func recordCleanup() {
	if err := initMetrics(); err != nil {
		return
	}
	cleanupTotal.Add(context.Background(), 1)
}
