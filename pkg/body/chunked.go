package body

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/corehttp/corehttp/pkg/constants"
	cherrors "github.com/corehttp/corehttp/pkg/errors"
)

// ChunkedWriter encodes an arbitrary byte stream as chunked transfer-coding,
// terminating with a single zero-length chunk and a blank line ("0\r\n\r\n"),
// per spec.md §4.2 (no trailer fields are ever emitted).
type ChunkedWriter struct {
	w io.Writer
}

// NewChunkedWriter wraps w so that every Write call becomes one chunk.
func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{w: w}
}

// Write emits p as a single chunk. A zero-length Write is a no-op; use
// Close to emit the terminating chunk.
func (cw *ChunkedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(cw.w, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	n, err := cw.w.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := io.WriteString(cw.w, "\r\n"); err != nil {
		return n, err
	}
	return n, nil
}

// Close emits the terminating zero-length chunk and blank line.
func (cw *ChunkedWriter) Close() error {
	_, err := io.WriteString(cw.w, "0\r\n\r\n")
	return err
}

// CopyChunked drains src into cw, chunking it as a sequence of reads of up
// to bufSize bytes, then closes cw. It does not close src.
func CopyChunked(cw *ChunkedWriter, src io.Reader, bufSize int) error {
	if bufSize <= 0 {
		bufSize = constants.DefaultConnBufferSize
	}
	buf := make([]byte, bufSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := cw.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return cw.Close()
		}
		if err != nil {
			return err
		}
	}
}

// chunkedReaderState tracks progress through a chunked body so that, once
// the terminating zero-length chunk has been consumed, every subsequent
// Read returns (0, io.EOF) rather than re-parsing the stream (spec.md §4.2:
// "once drained, further reads return EOF forever").
type chunkedReaderState int

const (
	stateReadingSize chunkedReaderState = iota
	stateReadingData
	stateReadingCRLF
	stateDone
)

// ChunkedReader decodes a chunked transfer-coded stream back into its
// original bytes. Trailer fields, if present, are read and discarded.
type ChunkedReader struct {
	r        *bufio.Reader
	state    chunkedReaderState
	remain   int64
	maxChunk int
}

// NewChunkedReader wraps r to decode chunked transfer-coding. maxChunk caps
// the length in bytes of a single chunk-size line (0 uses
// constants.MaxChunkLineBytes).
func NewChunkedReader(r *bufio.Reader, maxChunk int) *ChunkedReader {
	if maxChunk <= 0 {
		maxChunk = constants.MaxChunkLineBytes
	}
	return &ChunkedReader{r: r, maxChunk: maxChunk}
}

// Read implements io.Reader.
func (cr *ChunkedReader) Read(p []byte) (int, error) {
	if cr.state == stateDone {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		switch cr.state {
		case stateReadingSize:
			size, err := cr.readChunkSize()
			if err != nil {
				return 0, err
			}
			if size == 0 {
				if err := cr.discardTrailer(); err != nil {
					return 0, err
				}
				cr.state = stateDone
				return 0, io.EOF
			}
			cr.remain = size
			cr.state = stateReadingData
		case stateReadingData:
			n := len(p)
			if int64(n) > cr.remain {
				n = int(cr.remain)
			}
			read, err := cr.r.Read(p[:n])
			cr.remain -= int64(read)
			if cr.remain == 0 && err == nil {
				cr.state = stateReadingCRLF
			}
			if read > 0 {
				return read, nil
			}
			if err != nil {
				return 0, cherrors.NewIOError("reading chunk data", err)
			}
		case stateReadingCRLF:
			if err := cr.discardCRLF(); err != nil {
				return 0, err
			}
			cr.state = stateReadingSize
		}
	}
}

func (cr *ChunkedReader) readChunkSize() (int64, error) {
	line, err := cr.r.ReadString('\n')
	if err != nil {
		return 0, cherrors.NewIOError("reading chunk size line", err)
	}
	if len(line) > cr.maxChunk {
		return 0, cherrors.NewBodyTooLargeError("chunk size line exceeds configured cap")
	}
	line = strings.TrimRight(line, "\r\n")
	// Discard any chunk extensions ("size;ext=val").
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	size, err := strconv.ParseInt(line, 16, 64)
	if err != nil || size < 0 {
		return 0, cherrors.NewBadRequestError("malformed chunk size", err)
	}
	if size > int64(constants.MaxContentLength) {
		return 0, cherrors.NewBodyTooLargeError("chunk size exceeds configured limit")
	}
	return size, nil
}

func (cr *ChunkedReader) discardCRLF() error {
	b, err := cr.r.ReadByte()
	if err != nil {
		return cherrors.NewIOError("reading chunk terminator", err)
	}
	if b == '\r' {
		b, err = cr.r.ReadByte()
		if err != nil {
			return cherrors.NewIOError("reading chunk terminator", err)
		}
	}
	if b != '\n' {
		return cherrors.NewBadRequestError("malformed chunk terminator", nil)
	}
	return nil
}

func (cr *ChunkedReader) discardTrailer() error {
	for {
		line, err := cr.r.ReadString('\n')
		if err != nil {
			return cherrors.NewIOError("reading trailer", err)
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return nil
		}
	}
}
