// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package signal provides the reactive cell primitives the state tree is
// built on.
//
// # Primitives
//
//   - Signal[T]: a single mutable observable value. Set and Update are gated
//     by an equality function so that no-op writes never notify.
//   - Computed[T]: a derived value recomputed lazily from explicit sources
//     whenever one of their versions has moved.
//   - Scheduler: groups notifications. Inside Batch, each source notifies its
//     subscribers at most once, after the outermost Batch returns.
//
// # Versions
//
// Every Source carries a monotonically increasing version. Consumers compare
// versions instead of values to decide whether a recomputation is needed,
// which keeps Computed free of any global dependency-tracking state.
//
// # Thread Safety
//
// NOT safe for concurrent use. A Signal, its Computed dependents and the
// Scheduler they share belong to one logical thread; callers that share
// them across goroutines must synchronize externally.
package signal
