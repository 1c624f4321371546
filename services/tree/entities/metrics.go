// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entities

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// entityChangesTotal counts record-level changes by kind
	entityChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaltree_entities_changes_total",
		Help: "Total entity records added, updated or removed",
	}, []string{"kind"})

	// entityMutationsTotal counts effective mutating calls by operation
	entityMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaltree_entities_mutations_total",
		Help: "Total mutating calls that changed a collection",
	}, []string{"operation"})

	// entityErrorsTotal counts rejected mutations by reason
	entityErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaltree_entities_errors_total",
		Help: "Total rejected entity mutations by operation and reason",
	}, []string{"operation", "reason"})
)

func recordMutation[E any, K comparable](m *mutation[E, K]) {
	entityMutationsTotal.WithLabelValues(m.op).Inc()
	if n := len(m.added); n > 0 {
		entityChangesTotal.WithLabelValues("add").Add(float64(n))
	}
	if n := len(m.updated); n > 0 {
		entityChangesTotal.WithLabelValues("update").Add(float64(n))
	}
	if n := len(m.removed); n > 0 {
		entityChangesTotal.WithLabelValues("remove").Add(float64(n))
	}
}

func recordFailure(op string, err error) {
	entityErrorsTotal.WithLabelValues(op, failureReason(err)).Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateEntity):
		return "duplicate"
	case errors.Is(err, ErrEntityNotFound):
		return "not_found"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrNoID):
		return "no_id"
	default:
		return "patch"
	}
}
