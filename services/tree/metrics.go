// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/signaltree/services/tree/history"
)

var meter = otel.Meter("signaltree.tree")

var (
	writesTotal       metric.Int64Counter
	materializedTotal metric.Int64Counter
	restoresTotal     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		writesTotal, err = meter.Int64Counter(
			"tree_writes_total",
			metric.WithDescription("Total outermost tree writes by action and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		materializedTotal, err = meter.Int64Counter(
			"tree_nodes_materialized_total",
			metric.WithDescription("Total nodes materialized by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		restoresTotal, err = meter.Int64Counter(
			"tree_restores_total",
			metric.WithDescription("Total history restores by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordWrite(action history.Action, changed bool) {
	if err := initMetrics(); err != nil {
		return
	}
	writesTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("changed", strconv.FormatBool(changed)),
	))
}

func recordMaterialized(k Kind) {
	if err := initMetrics(); err != nil {
		return
	}
	materializedTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", k.String())))
}

func recordRestore(ok bool) {
	if err := initMetrics(); err != nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	restoresTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}
