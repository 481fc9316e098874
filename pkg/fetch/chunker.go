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

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/robber-m/stream-merge/pkg/govern"
)

const (
	// DefaultChunkSize matches object-store request sizing that keeps ranged
	// GETs cheap while still amortizing per-request overhead.
	DefaultChunkSize = 128 << 10
	// DefaultInFlight is the per-source download window. Ranged requests for
	// different file regions are serviced independently by object stores, so
	// a small window hides per-request latency without growing memory beyond
	// window*chunk bytes per active source.
	DefaultInFlight = 4
)

// RetryPolicy bounds transient-error retries. Zero values select the
// defaults; the ceiling and intervals are deliberately configurable rather
// than hard-coded.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 4
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 100 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}
	return p
}

// ChunkerConfig configures one source's chunked download stream.
type ChunkerConfig struct {
	ChunkSize int
	InFlight  int
	Retry     RetryPolicy
	// OnOp observes each store operation for metrics/health accounting.
	OnOp func(op string, bytes int, d time.Duration, err error)
}

func (c ChunkerConfig) withDefaults() ChunkerConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.InFlight <= 0 {
		c.InFlight = DefaultInFlight
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

type chunkResult struct {
	data []byte
	err  error
}

// ChunkReader streams one object as an io.Reader by downloading fixed-size
// chunks with a bounded number of requests in flight. Chunks are consumed in
// order; ownership of each buffer transfers to the reader on delivery. Every
// request is gated by a fetch governor permit, so total in-flight requests
// across all sources stay bounded regardless of source count. When the
// consumer stops draining (its read-ahead buffer is full) the window fills
// and the source stops issuing requests, holding no permits while paused.
type ChunkReader struct {
	cancel  context.CancelFunc
	pending chan chan chunkResult
	cur     []byte
	err     error
}

// NewChunkReader starts streaming key from store. size is the object size
// when known from enumeration; pass <= 0 to look it up. Fetching stops when
// ctx is cancelled.
func NewChunkReader(ctx context.Context, store Store, key string, size int64, gov *govern.Governor, cfg ChunkerConfig) *ChunkReader {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	r := &ChunkReader{
		cancel:  cancel,
		pending: make(chan chan chunkResult, cfg.InFlight),
	}
	go r.dispatch(ctx, store, key, size, gov, cfg)
	return r
}

func (r *ChunkReader) dispatch(ctx context.Context, store Store, key string, size int64, gov *govern.Governor, cfg ChunkerConfig) {
	defer close(r.pending)

	if size <= 0 {
		var err error
		size, err = fetchWithRetry(ctx, gov, cfg, "size", func(ctx context.Context) (int64, int, error) {
			n, err := store.Size(ctx, key)
			return n, 0, err
		})
		if err != nil {
			r.deliverError(ctx, err)
			return
		}
	}

	for start := int64(0); start < size; start += int64(cfg.ChunkSize) {
		length := int64(cfg.ChunkSize)
		if start+length > size {
			length = size - start
		}
		resCh := make(chan chunkResult, 1)
		select {
		case r.pending <- resCh:
		case <-ctx.Done():
			return
		}
		go func(start, length int64) {
			data, err := fetchWithRetry(ctx, gov, cfg, "read_range", func(ctx context.Context) ([]byte, int, error) {
				data, err := store.ReadRange(ctx, key, start, length)
				return data, len(data), err
			})
			resCh <- chunkResult{data: data, err: err}
		}(start, length)
	}
}

func (r *ChunkReader) deliverError(ctx context.Context, err error) {
	resCh := make(chan chunkResult, 1)
	resCh <- chunkResult{err: err}
	select {
	case r.pending <- resCh:
	case <-ctx.Done():
	}
}

// fetchWithRetry runs one store operation under a governor permit, retrying
// transient failures with exponential backoff up to the attempt ceiling.
// Permits are held only for the duration of a single attempt, never across a
// backoff sleep.
func fetchWithRetry[T any](ctx context.Context, gov *govern.Governor, cfg ChunkerConfig, opName string, op func(context.Context) (T, int, error)) (T, error) {
	var zero T
	policy := backoff.WithContext(backoff.WithMaxRetries(newExponential(cfg.Retry), uint64(cfg.Retry.MaxAttempts-1)), ctx)

	var result T
	err := backoff.Retry(func() error {
		if gov != nil {
			if err := gov.Acquire(ctx); err != nil {
				return backoff.Permanent(err)
			}
			defer gov.Release()
		}
		start := time.Now()
		value, bytes, err := op(ctx)
		if cfg.OnOp != nil {
			cfg.OnOp(opName, bytes, time.Since(start), err)
		}
		if err != nil {
			if ctx.Err() != nil || !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = value
		return nil
	}, policy)
	if err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if IsTransient(err) {
			// Retry budget exhausted; escalate.
			return zero, fmt.Errorf("%w: retries exhausted: %v", ErrSourceUnavailable, err)
		}
		return zero, err
	}
	return result, nil
}

func newExponential(p RetryPolicy) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0
	return eb
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Read implements io.Reader over the ordered chunk stream.
func (r *ChunkReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		resCh, ok := <-r.pending
		if !ok {
			return 0, io.EOF
		}
		res := <-resCh
		if res.err != nil {
			r.err = res.err
			r.cancel()
			return 0, res.err
		}
		r.cur = res.data
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

// Close stops all in-flight downloads for this source.
func (r *ChunkReader) Close() error {
	r.cancel()
	return nil
}
