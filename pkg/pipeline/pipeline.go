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

// Package pipeline composes fetch, decompression, and record parsing into
// one cancellable unit per source, exposing a pull-based cursor over a
// bounded read-ahead buffer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/robber-m/stream-merge/pkg/compress"
	"github.com/robber-m/stream-merge/pkg/fetch"
	"github.com/robber-m/stream-merge/pkg/govern"
	"github.com/robber-m/stream-merge/pkg/pcap"
	"github.com/robber-m/stream-merge/pkg/source"
)

const (
	// DefaultBatchRecords bounds how many records one hand-off to the merge
	// carries. Batching amortizes channel synchronization between the
	// per-source parser and the single merging goroutine.
	DefaultBatchRecords = 2048
	// DefaultBatchBytes bounds a batch by payload size so jumbo records
	// cannot inflate the read-ahead memory of one source.
	DefaultBatchBytes = 1 << 20
)

// Config tunes the per-source pipeline.
type Config struct {
	Chunker      fetch.ChunkerConfig
	BatchRecords int
	BatchBytes   int
}

func (c Config) withDefaults() Config {
	if c.BatchRecords <= 0 {
		c.BatchRecords = DefaultBatchRecords
	}
	if c.BatchBytes <= 0 {
		c.BatchBytes = DefaultBatchBytes
	}
	return c
}

// Pipeline streams one source's records. The producer goroutine fills a
// one-deep channel of record batches: decompression and parsing for the next
// batch proceed in parallel with the merge consuming the current one, and
// once the channel holds a batch the source does no further work until the
// merge drains it. That single property is what keeps thousands of cold
// sources cheap while the few sources at the merge frontier stay hot.
//
// All methods are owned by the single merge goroutine; none are safe for
// concurrent use.
type Pipeline struct {
	desc    source.Descriptor
	cancel  context.CancelFunc
	batches chan []pcap.Record
	hdrCh   chan pcap.Header

	hdr     pcap.Header
	hdrOK   bool
	hdrRead bool
	cur     []pcap.Record
	idx     int
	done    bool
	failure error
}

// New starts the pipeline for one source. key is the store key (the object
// key for remote sources, the path for local ones). decodeGov gates the
// CPU-bound decompress/parse work; fetchGov gates ranged reads and is passed
// through to the chunked fetcher.
func New(ctx context.Context, desc source.Descriptor, store fetch.Store, key string, decodeGov, fetchGov *govern.Governor, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		desc:    desc,
		cancel:  cancel,
		batches: make(chan []pcap.Record, 1),
		hdrCh:   make(chan pcap.Header, 1),
	}
	go p.run(ctx, store, key, decodeGov, fetchGov, cfg)
	return p
}

func (p *Pipeline) run(ctx context.Context, store fetch.Store, key string, decodeGov, fetchGov *govern.Governor, cfg Config) {
	defer close(p.batches)

	chunks := fetch.NewChunkReader(ctx, store, key, p.desc.SizeHint, fetchGov, cfg.Chunker)
	defer chunks.Close()

	decoded, _, closeDecoder, err := compress.NewReader(chunks)
	if err != nil {
		p.failure = classify(err)
		close(p.hdrCh)
		return
	}
	defer closeDecoder()

	records, err := pcap.NewReader(decoded)
	if err != nil {
		p.failure = classify(err)
		close(p.hdrCh)
		return
	}
	p.hdrCh <- records.Header()
	close(p.hdrCh)

	for {
		if err := decodeGov.Acquire(ctx); err != nil {
			p.failure = err
			return
		}
		batch := make([]pcap.Record, 0, cfg.BatchRecords)
		batchBytes := 0
		var streamErr error
		for len(batch) < cfg.BatchRecords && batchBytes < cfg.BatchBytes {
			rec, err := records.Next()
			if err != nil {
				streamErr = err
				break
			}
			batch = append(batch, rec)
			batchBytes += len(rec.Raw)
		}
		decodeGov.Release()

		if len(batch) > 0 {
			select {
			case p.batches <- batch:
			case <-ctx.Done():
				p.failure = ctx.Err()
				return
			}
		}
		if streamErr != nil {
			if streamErr != io.EOF {
				p.failure = classify(streamErr)
			}
			return
		}
	}
}

// classify folds stream failures into the pipeline's error taxonomy.
// Fetch and parse errors already carry their sentinel; anything else came
// out of a decompressor mid-stream and is treated as stream corruption.
func classify(err error) error {
	switch {
	case errors.Is(err, fetch.ErrSourceUnavailable),
		errors.Is(err, pcap.ErrMalformedHeader),
		errors.Is(err, pcap.ErrTruncatedRecord),
		errors.Is(err, pcap.ErrCorruptRecord),
		errors.Is(err, compress.ErrCorruptStream),
		errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, fetch.ErrTransient):
		return fmt.Errorf("%w: %v", fetch.ErrSourceUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", compress.ErrCorruptStream, err)
	}
}

// Header blocks until the source's pcap global header is known. It reports
// false if the source failed before producing a valid header.
func (p *Pipeline) Header() (pcap.Header, bool) {
	if !p.hdrRead {
		p.hdr, p.hdrOK = <-p.hdrCh
		p.hdrRead = true
	}
	return p.hdr, p.hdrOK
}

// Peek returns the current head record without consuming it. It blocks only
// while the read-ahead buffer is empty and the source is not yet exhausted.
func (p *Pipeline) Peek() (pcap.Record, bool) {
	for !p.done && p.idx >= len(p.cur) {
		batch, ok := <-p.batches
		if !ok {
			p.done = true
			p.cur, p.idx = nil, 0
			return pcap.Record{}, false
		}
		p.cur, p.idx = batch, 0
	}
	if p.done {
		return pcap.Record{}, false
	}
	return p.cur[p.idx], true
}

// Advance consumes the current head. The producer refills the buffer
// asynchronously; Advance never blocks.
func (p *Pipeline) Advance() {
	if !p.done && p.idx < len(p.cur) {
		p.idx++
	}
}

// Err reports why the source ended early. It is meaningful only once Peek
// has returned false; nil means clean exhaustion.
func (p *Pipeline) Err() error {
	return p.failure
}

// Identity names the source for diagnostics.
func (p *Pipeline) Identity() string {
	return p.desc.Identity
}

// Index is the source's stable enumeration index.
func (p *Pipeline) Index() int {
	return p.desc.Index
}

// Close cancels all in-flight work for this source. Partially-read buffers
// are abandoned without flushing partial records.
func (p *Pipeline) Close() {
	p.cancel()
}
