package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/robber-m/stream-merge/pkg/compress"
	"github.com/robber-m/stream-merge/pkg/fetch"
	"github.com/robber-m/stream-merge/pkg/govern"
	"github.com/robber-m/stream-merge/pkg/pcap"
	"github.com/robber-m/stream-merge/pkg/source"
)

func pcapFile(tsUS ...uint64) []byte {
	var buf bytes.Buffer
	hdr := make([]byte, pcap.HeaderLen)
	copy(hdr, []byte{0xd4, 0xc3, 0xb2, 0xa1})
	binary.LittleEndian.PutUint16(hdr[4:6], 2)
	binary.LittleEndian.PutUint16(hdr[6:8], 4)
	binary.LittleEndian.PutUint32(hdr[16:20], 65535)
	binary.LittleEndian.PutUint32(hdr[20:24], 1)
	buf.Write(hdr)
	for _, us := range tsUS {
		rec := make([]byte, pcap.RecordHeaderLen+4)
		binary.LittleEndian.PutUint32(rec[0:4], uint32(us/1_000_000))
		binary.LittleEndian.PutUint32(rec[4:8], uint32(us%1_000_000))
		binary.LittleEndian.PutUint32(rec[8:12], 4)
		binary.LittleEndian.PutUint32(rec[12:16], 4)
		buf.Write(rec)
	}
	return buf.Bytes()
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zstded(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

func newPipeline(t *testing.T, store fetch.Store, key string, cfg Config) *Pipeline {
	t.Helper()
	desc := source.Descriptor{Identity: key}
	p := New(context.Background(), desc, store, key, govern.New(2), govern.New(4), cfg)
	t.Cleanup(p.Close)
	return p
}

func testConfig() Config {
	return Config{
		Chunker: fetch.ChunkerConfig{
			ChunkSize: 64,
			InFlight:  2,
			Retry:     fetch.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		},
	}
}

func drain(t *testing.T, p *Pipeline) []uint64 {
	t.Helper()
	var out []uint64
	for {
		rec, ok := p.Peek()
		if !ok {
			return out
		}
		out = append(out, rec.TimestampNS)
		p.Advance()
	}
}

func TestPipelineStreamsGzippedSource(t *testing.T) {
	store := fetch.NewMemoryStore()
	store.Put("a.pcap.gz", gzipped(t, pcapFile(1, 2, 3)))

	p := newPipeline(t, store, "a.pcap.gz", testConfig())
	hdr, ok := p.Header()
	if !ok {
		t.Fatalf("no header: %v", p.Err())
	}
	if hdr.Nanosecond || hdr.BigEndian() {
		t.Fatalf("unexpected header %+v", hdr)
	}

	got := drain(t, p)
	want := []uint64{1000, 2000, 3000}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if err := p.Err(); err != nil {
		t.Fatalf("Err = %v after clean end", err)
	}
}

func TestPipelineStreamsZstdSource(t *testing.T) {
	store := fetch.NewMemoryStore()
	store.Put("a.pcap.zst", zstded(t, pcapFile(7)))

	p := newPipeline(t, store, "a.pcap.zst", testConfig())
	got := drain(t, p)
	if len(got) != 1 || got[0] != 7000 {
		t.Fatalf("got %v", got)
	}
}

func TestPipelineStreamsUncompressedSource(t *testing.T) {
	store := fetch.NewMemoryStore()
	store.Put("a.pcap", pcapFile(5, 6))

	p := newPipeline(t, store, "a.pcap", testConfig())
	if got := drain(t, p); len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestPipelinePeekIsIdempotent(t *testing.T) {
	store := fetch.NewMemoryStore()
	store.Put("a.pcap", pcapFile(1, 2))

	p := newPipeline(t, store, "a.pcap", testConfig())
	r1, ok1 := p.Peek()
	r2, ok2 := p.Peek()
	if !ok1 || !ok2 || r1.TimestampNS != r2.TimestampNS {
		t.Fatalf("Peek consumed the record")
	}
	p.Advance()
	r3, ok := p.Peek()
	if !ok || r3.TimestampNS != 2000 {
		t.Fatalf("Advance did not move the cursor: %v %v", r3.TimestampNS, ok)
	}
}

func TestPipelineMissingObject(t *testing.T) {
	p := newPipeline(t, fetch.NewMemoryStore(), "absent", testConfig())
	if _, ok := p.Header(); ok {
		t.Fatalf("expected no header for missing object")
	}
	if _, ok := p.Peek(); ok {
		t.Fatalf("expected no records for missing object")
	}
	if !errors.Is(p.Err(), fetch.ErrSourceUnavailable) {
		t.Fatalf("Err = %v, want ErrSourceUnavailable", p.Err())
	}
}

func TestPipelineGarbageBytes(t *testing.T) {
	store := fetch.NewMemoryStore()
	store.Put("junk", []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})

	p := newPipeline(t, store, "junk", testConfig())
	if _, ok := p.Peek(); ok {
		t.Fatalf("expected no records from garbage")
	}
	if !errors.Is(p.Err(), compress.ErrCorruptStream) {
		t.Fatalf("Err = %v, want ErrCorruptStream", p.Err())
	}
}

func TestPipelineTruncatedTail(t *testing.T) {
	full := pcapFile(1, 2, 3)
	store := fetch.NewMemoryStore()
	store.Put("cut.pcap", full[:len(full)-5])

	p := newPipeline(t, store, "cut.pcap", testConfig())
	got := drain(t, p)
	// Records before the cut still come through.
	if len(got) != 2 {
		t.Fatalf("got %d records before truncation, want 2", len(got))
	}
	if !errors.Is(p.Err(), pcap.ErrTruncatedRecord) {
		t.Fatalf("Err = %v, want ErrTruncatedRecord", p.Err())
	}
}

func TestPipelineReadAheadIsOneBatchDeep(t *testing.T) {
	store := fetch.NewMemoryStore()
	store.Put("a.pcap", pcapFile(1, 2, 3))

	p := newPipeline(t, store, "a.pcap", testConfig())
	// The hand-off buffer is exactly one batch per source regardless of how
	// many sources exist; a source whose batch sits unconsumed does no
	// further parse work. This is what keeps total buffered memory
	// proportional to the governor budgets, not to the source count.
	if cap(p.batches) != 1 {
		t.Fatalf("batch channel capacity = %d, want 1", cap(p.batches))
	}
	if cap(p.hdrCh) != 1 {
		t.Fatalf("header channel capacity = %d, want 1", cap(p.hdrCh))
	}
}

func TestPipelineBatchBoundaries(t *testing.T) {
	ts := make([]uint64, 100)
	for i := range ts {
		ts[i] = uint64(i + 1)
	}
	store := fetch.NewMemoryStore()
	store.Put("many.pcap", pcapFile(ts...))

	cfg := testConfig()
	cfg.BatchRecords = 7
	p := newPipeline(t, store, "many.pcap", cfg)
	got := drain(t, p)
	if len(got) != 100 {
		t.Fatalf("got %d records, want 100", len(got))
	}
	for i := range got {
		if got[i] != uint64(i+1)*1000 {
			t.Fatalf("record %d out of order: %d", i, got[i])
		}
	}
}
