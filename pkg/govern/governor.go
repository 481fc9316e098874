// Copyright 2026 the stream-merge authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package govern bounds the number of concurrently active per-source
// pipelines. The permit pool is an explicit constructed handle, not ambient
// state, so tests can run independent governors with different budgets.
package govern

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Governor holds a fixed pool of permits. A pipeline acquires one permit
// before doing fetch/decompress/parse work and releases it when its buffer
// is full or its source is exhausted. The pool size is independent of the
// number of sources, which is what keeps resource usage flat as the input
// count grows into the thousands.
type Governor struct {
	sem    *semaphore.Weighted
	budget int64
}

// New creates a governor with the given permit budget. A budget of zero or
// less defaults to the number of usable CPUs.
func New(budget int) *Governor {
	if budget <= 0 {
		budget = runtime.GOMAXPROCS(0)
	}
	return &Governor{
		sem:    semaphore.NewWeighted(int64(budget)),
		budget: int64(budget),
	}
}

// Acquire blocks until a permit is available or ctx is cancelled.
func (g *Governor) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire grabs a permit without blocking.
func (g *Governor) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release returns a permit to the pool.
func (g *Governor) Release() {
	g.sem.Release(1)
}

// Budget returns the pool size.
func (g *Governor) Budget() int {
	return int(g.budget)
}
