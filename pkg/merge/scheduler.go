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

package merge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robber-m/stream-merge/pkg/metrics"
	"github.com/robber-m/stream-merge/pkg/pcap"
)

// Stream is the cursor surface the scheduler merges over. A pipeline
// satisfies it; tests substitute in-memory streams. All methods are called
// from the scheduler goroutine only.
type Stream interface {
	// Header blocks until the stream's pcap header is known. ok is false
	// when the stream failed before producing one.
	Header() (hdr pcap.Header, ok bool)
	// Peek blocks until a record is available or the stream ends. It does
	// not consume the record; repeated calls return the same record.
	Peek() (rec pcap.Record, ok bool)
	// Advance consumes the record last returned by Peek.
	Advance()
	// Err reports why the stream ended, nil for a clean end of file. Valid
	// only after Peek has returned false.
	Err() error
	Identity() string
	Close()
}

// SourceError records one stream that ended abnormally. The merge keeps
// going without it.
type SourceError struct {
	Identity string
	Err      error
}

// Diagnostics summarizes a completed merge run.
type Diagnostics struct {
	Records        uint64
	SourcesMerged  int
	SourceErrors   []SourceError
	SortViolations uint64
	HeaderWarnings int
}

// Failed reports whether any source ended abnormally.
func (d *Diagnostics) Failed() bool {
	return len(d.SourceErrors) > 0
}

// Scheduler owns the tournament over a fixed set of streams and writes the
// interleaved records to a single sink.
type Scheduler struct {
	streams []Stream
	out     *pcap.Writer
	logger  *slog.Logger
}

func NewScheduler(streams []Stream, out *pcap.Writer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{streams: streams, out: out, logger: logger}
}

// Run merges every stream to completion. Per-source failures are absorbed
// into the returned Diagnostics; only sink write errors and context
// cancellation abort the run.
func (s *Scheduler) Run(ctx context.Context) (*Diagnostics, error) {
	diags := &Diagnostics{}
	k := len(s.streams)
	t := newTree(k)
	defer func() {
		for _, st := range s.streams {
			st.Close()
		}
	}()

	// Prime every cursor. The first stream (in argument order) that yields
	// a header donates the output file header verbatim; later headers are
	// only checked for compatibility.
	var outHdr pcap.Header
	wroteHdr := false
	lastTS := make([]uint64, k)
	for i, st := range s.streams {
		if ctx.Err() != nil {
			return diags, ctx.Err()
		}
		hdr, ok := st.Header()
		if !ok {
			s.absorb(diags, st)
			t.retire(i)
			continue
		}
		if !wroteHdr {
			outHdr = hdr
			if err := s.out.WriteHeader(hdr); err != nil {
				return diags, fmt.Errorf("write output header: %w", err)
			}
			wroteHdr = true
		} else {
			s.checkHeader(diags, st.Identity(), outHdr, hdr)
		}
		rec, ok := st.Peek()
		if !ok {
			s.absorb(diags, st)
			t.retire(i)
			continue
		}
		diags.SourcesMerged++
		metrics.ActiveSources.Inc()
		t.update(i, rec.TimestampNS)
	}

	for {
		i, ok := t.winner()
		if !ok {
			break
		}
		if ctx.Err() != nil {
			return diags, ctx.Err()
		}
		st := s.streams[i]
		rec, _ := st.Peek()
		if rec.TimestampNS < lastTS[i] {
			// The source lied about being sorted. Emit the record anyway
			// and keep merging; the stream is only locally disordered.
			diags.SortViolations++
			metrics.SortViolations.Inc()
			s.logger.Warn("source not time-sorted",
				"source", st.Identity(),
				"timestamp_ns", rec.TimestampNS,
				"previous_ns", lastTS[i])
		}
		lastTS[i] = rec.TimestampNS
		if err := s.out.WriteRecord(rec.Raw); err != nil {
			return diags, fmt.Errorf("write record: %w", err)
		}
		diags.Records++
		metrics.RecordsMerged.Inc()
		metrics.BytesWritten.Add(float64(len(rec.Raw)))
		st.Advance()

		next, ok := st.Peek()
		if !ok {
			s.absorb(diags, st)
			t.retire(i)
			metrics.ActiveSources.Dec()
			continue
		}
		t.update(i, next.TimestampNS)
	}

	if err := s.out.Flush(); err != nil {
		return diags, fmt.Errorf("flush output: %w", err)
	}
	return diags, nil
}

// absorb folds a finished stream's failure, if any, into the diagnostics.
func (s *Scheduler) absorb(diags *Diagnostics, st Stream) {
	err := st.Err()
	if err == nil {
		return
	}
	diags.SourceErrors = append(diags.SourceErrors, SourceError{
		Identity: st.Identity(),
		Err:      err,
	})
	metrics.SourceErrors.WithLabelValues(errorKind(err)).Inc()
	s.logger.Warn("source dropped from merge", "source", st.Identity(), "error", err)
}

// checkHeader warns when a later source's header disagrees with the one
// already emitted. Records are copied verbatim either way, so the merge
// proceeds; the warning tells the operator the output header describes
// only the first source.
func (s *Scheduler) checkHeader(diags *Diagnostics, identity string, out, hdr pcap.Header) {
	warned := false
	if hdr.Nanosecond != out.Nanosecond {
		s.logger.Warn("timestamp resolution differs from output header",
			"source", identity, "nanosecond", hdr.Nanosecond)
		warned = true
	}
	if hdr.BigEndian() != out.BigEndian() {
		s.logger.Warn("byte order differs from output header",
			"source", identity, "big_endian", hdr.BigEndian())
		warned = true
	}
	if hdr.LinkType != out.LinkType {
		s.logger.Warn("link type differs from output header",
			"source", identity, "link_type", hdr.LinkType, "output_link_type", out.LinkType)
		warned = true
	}
	if warned {
		diags.HeaderWarnings++
	}
}
