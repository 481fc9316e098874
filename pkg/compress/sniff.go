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

// Package compress selects and applies a source's decompressor by sniffing
// the leading magic bytes. Filenames are not trusted for format selection;
// capture pipelines routinely mislabel rotated files.
package compress

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/robber-m/stream-merge/pkg/pcap"
)

// Format identifies the detected compression envelope.
type Format int

const (
	FormatNone Format = iota
	FormatGzip
	FormatZstd
)

func (f Format) String() string {
	switch f {
	case FormatGzip:
		return "gzip"
	case FormatZstd:
		return "zstd"
	default:
		return "none"
	}
}

// ErrCorruptStream is returned when the leading bytes match neither a known
// compression format nor a raw pcap header, or when the decompressor later
// reports a checksum or frame error. It terminates only the affected source.
var ErrCorruptStream = errors.New("corrupt stream")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Sniff inspects the first bytes of b and returns the detected format.
// Uncompressed pcap input is recognized by its own magic and passed through.
func Sniff(b []byte) (Format, error) {
	if len(b) >= 2 && b[0] == gzipMagic[0] && b[1] == gzipMagic[1] {
		return FormatGzip, nil
	}
	if len(b) >= 4 && b[0] == zstdMagic[0] && b[1] == zstdMagic[1] && b[2] == zstdMagic[2] && b[3] == zstdMagic[3] {
		return FormatZstd, nil
	}
	if pcap.IsMagic(b) {
		return FormatNone, nil
	}
	return FormatNone, fmt.Errorf("%w: unrecognized format signature % x", ErrCorruptStream, head(b))
}

func head(b []byte) []byte {
	if len(b) > 4 {
		return b[:4]
	}
	return b
}

// NewReader sniffs r and wraps it with the matching decompressor. The
// returned closer releases decompressor state and must be called when the
// source pipeline ends.
func NewReader(r io.Reader) (io.Reader, Format, func(), error) {
	br := bufio.NewReader(r)
	lead, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, FormatNone, nil, err
	}

	format, err := Sniff(lead)
	if err != nil {
		return nil, format, nil, err
	}

	switch format {
	case FormatGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, format, nil, fmt.Errorf("%w: gzip: %v", ErrCorruptStream, err)
		}
		return zr, format, func() { zr.Close() }, nil
	case FormatZstd:
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, format, nil, fmt.Errorf("%w: zstd: %v", ErrCorruptStream, err)
		}
		return zr.IOReadCloser(), format, zr.Close, nil
	default:
		return br, format, func() {}, nil
	}
}
