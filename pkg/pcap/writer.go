package pcap

import (
	"bufio"
	"fmt"
	"io"
)

// DefaultWriteBufferSize is sized for bulk sequential writes to a pipe.
const DefaultWriteBufferSize = 2 << 20

// Writer serializes a merged record stream in pcap wire format: one global
// header followed by each record's raw bytes verbatim, in the order given.
// Write failures are fatal to the run and are surfaced immediately.
type Writer struct {
	bw          *bufio.Writer
	wroteHeader bool
}

// NewWriter wraps w with a buffered pcap writer.
func NewWriter(w io.Writer, bufSize int) *Writer {
	if bufSize <= 0 {
		bufSize = DefaultWriteBufferSize
	}
	return &Writer{bw: bufio.NewWriterSize(w, bufSize)}
}

// WriteHeader writes the global header once. Subsequent calls are no-ops so
// the sink can be primed from whichever source parses first.
func (w *Writer) WriteHeader(h Header) error {
	if w.wroteHeader {
		return nil
	}
	if _, err := w.bw.Write(h.Raw[:]); err != nil {
		return fmt.Errorf("write pcap header: %w", err)
	}
	w.wroteHeader = true
	return nil
}

// WriteRecord appends one record's raw framing bytes.
func (w *Writer) WriteRecord(raw []byte) error {
	if _, err := w.bw.Write(raw); err != nil {
		return fmt.Errorf("write pcap record: %w", err)
	}
	return nil
}

// Flush drains the write buffer to the underlying sink.
func (w *Writer) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush pcap output: %w", err)
	}
	return nil
}
