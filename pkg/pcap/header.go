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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the size of the legacy pcap global header.
const HeaderLen = 24

// RecordHeaderLen is the size of each per-record header (ts_sec, ts_frac,
// incl_len, orig_len).
const RecordHeaderLen = 16

// The four legacy pcap magic numbers, as they appear on the wire. The byte
// order of the magic determines the byte order of every header field in the
// file; the 0xa1b23c4d variant marks nanosecond timestamp fractions.
var (
	magicMicroLE = [4]byte{0xd4, 0xc3, 0xb2, 0xa1}
	magicMicroBE = [4]byte{0xa1, 0xb2, 0xc3, 0xd4}
	magicNanoLE  = [4]byte{0x4d, 0x3c, 0xb2, 0xa1}
	magicNanoBE  = [4]byte{0xa1, 0xb2, 0x3c, 0x4d}
)

// ErrMalformedHeader is returned when the global header is absent, short, or
// carries an unknown magic number.
var ErrMalformedHeader = errors.New("malformed pcap header")

// Header describes a parsed pcap global header. Raw preserves the original
// 24 header bytes so a merged output file can reuse the first input's header
// verbatim.
type Header struct {
	ByteOrder  binary.ByteOrder
	Nanosecond bool
	Version    [2]uint16
	SnapLen    uint32
	LinkType   uint32
	Raw        [HeaderLen]byte
}

// BigEndian reports whether header and record fields are big-endian.
func (h Header) BigEndian() bool {
	return h.ByteOrder == binary.ByteOrder(binary.BigEndian)
}

// TimestampMultiplier converts the record header's fractional field to
// nanoseconds: 1 for nanosecond files, 1000 for microsecond files.
func (h Header) TimestampMultiplier() uint64 {
	if h.Nanosecond {
		return 1
	}
	return 1000
}

// IsMagic reports whether b begins with one of the four legacy pcap magic
// numbers. Used by format sniffing to recognize uncompressed inputs.
func IsMagic(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	var m [4]byte
	copy(m[:], b[:4])
	return m == magicMicroLE || m == magicMicroBE || m == magicNanoLE || m == magicNanoBE
}

// ParseHeader consumes exactly HeaderLen bytes from r and validates them as a
// legacy pcap global header.
func ParseHeader(r io.Reader) (Header, error) {
	var h Header
	if _, err := io.ReadFull(r, h.Raw[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Header{}, fmt.Errorf("%w: stream shorter than a pcap header", ErrMalformedHeader)
		}
		return Header{}, fmt.Errorf("read pcap header: %w", err)
	}

	var m [4]byte
	copy(m[:], h.Raw[:4])
	switch m {
	case magicMicroLE:
		h.ByteOrder, h.Nanosecond = binary.LittleEndian, false
	case magicMicroBE:
		h.ByteOrder, h.Nanosecond = binary.BigEndian, false
	case magicNanoLE:
		h.ByteOrder, h.Nanosecond = binary.LittleEndian, true
	case magicNanoBE:
		h.ByteOrder, h.Nanosecond = binary.BigEndian, true
	default:
		return Header{}, fmt.Errorf("%w: unknown magic %x", ErrMalformedHeader, m)
	}

	h.Version[0] = h.ByteOrder.Uint16(h.Raw[4:6])
	h.Version[1] = h.ByteOrder.Uint16(h.Raw[6:8])
	h.SnapLen = h.ByteOrder.Uint32(h.Raw[16:20])
	h.LinkType = h.ByteOrder.Uint32(h.Raw[20:24])

	if h.Version[0] != 2 {
		return Header{}, fmt.Errorf("%w: unsupported version %d.%d", ErrMalformedHeader, h.Version[0], h.Version[1])
	}
	return h, nil
}
