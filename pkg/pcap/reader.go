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

package pcap

import (
	"errors"
	"fmt"
	"io"
)

// MaxRecordBytes bounds the captured length a record header may declare.
// Anything larger is treated as stream corruption rather than allocated.
const MaxRecordBytes = 256 << 20

var (
	// ErrTruncatedRecord is returned when the stream ends inside a record.
	// Truncation at a stream's tail is expected under abrupt upstream cutoff
	// and terminates the source without invalidating records already parsed.
	ErrTruncatedRecord = errors.New("truncated pcap record")

	// ErrCorruptRecord is returned when a record header declares an
	// implausible captured length.
	ErrCorruptRecord = errors.New("corrupt pcap record")
)

// Record is one packet-capture entry. Raw holds the exact on-wire record
// header plus payload so merged output stays byte-for-byte identical to the
// input framing. TimestampNS is normalized to nanoseconds regardless of the
// source file's timestamp resolution, giving all sources a common merge key.
type Record struct {
	TimestampNS uint64
	Raw         []byte
}

// Reader parses a decompressed pcap byte stream into a forward-only sequence
// of Records. The global header is consumed once at construction.
type Reader struct {
	hdr     Header
	r       io.Reader
	tsMult  uint64
	scratch [RecordHeaderLen]byte
}

// NewReader validates the pcap global header of r and returns a Reader
// positioned at the first record.
func NewReader(r io.Reader) (*Reader, error) {
	hdr, err := ParseHeader(r)
	if err != nil {
		return nil, err
	}
	return &Reader{
		hdr:    hdr,
		r:      r,
		tsMult: hdr.TimestampMultiplier(),
	}, nil
}

// Header returns the parsed global header.
func (r *Reader) Header() Header {
	return r.hdr
}

// Next returns the next record. It returns io.EOF at a clean end of stream,
// ErrTruncatedRecord if the stream ends mid-record, and ErrCorruptRecord if a
// record header is implausible.
func (r *Reader) Next() (Record, error) {
	if _, err := io.ReadFull(r.r, r.scratch[:]); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return Record{}, fmt.Errorf("%w: stream ended inside record header", ErrTruncatedRecord)
		}
		// Upstream failure (e.g. a decompressor frame error); preserve the
		// cause so the pipeline can classify it.
		return Record{}, fmt.Errorf("read record header: %w", err)
	}

	order := r.hdr.ByteOrder
	sec := order.Uint32(r.scratch[0:4])
	frac := order.Uint32(r.scratch[4:8])
	capLen := order.Uint32(r.scratch[8:12])

	if capLen > MaxRecordBytes {
		return Record{}, fmt.Errorf("%w: captured length %d", ErrCorruptRecord, capLen)
	}

	raw := make([]byte, RecordHeaderLen+int(capLen))
	copy(raw, r.scratch[:])
	if _, err := io.ReadFull(r.r, raw[RecordHeaderLen:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Record{}, fmt.Errorf("%w: stream ended inside record payload", ErrTruncatedRecord)
		}
		return Record{}, fmt.Errorf("read record payload: %w", err)
	}

	return Record{
		TimestampNS: uint64(sec)*1_000_000_000 + uint64(frac)*r.tsMult,
		Raw:         raw,
	}, nil
}
