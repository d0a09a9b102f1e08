package body

import (
	"io"

	"github.com/corehttp/corehttp/pkg/buffer"
	"github.com/corehttp/corehttp/pkg/constants"
)

// Buffered is a Body fully captured from a stream into memory, spilling to
// a temp file above memLimit bytes (see pkg/buffer). Used by callers that
// need to retain a response body past the lifetime of its connection, or
// resend a request body across a redirect hop without re-reading the
// original source.
type Buffered struct {
	buf *buffer.Buffer
}

// Drain reads src to completion into a Buffered body, using memLimit as the
// memory-to-disk spill threshold (0 uses constants.DefaultBodyMemLimit).
func Drain(src io.Reader, memLimit int64) (Buffered, error) {
	if memLimit <= 0 {
		memLimit = constants.DefaultBodyMemLimit
	}
	buf := buffer.NewCapped(memLimit, constants.MaxContentLength)
	if _, err := io.Copy(buf, src); err != nil {
		buf.Close()
		return Buffered{}, err
	}
	return Buffered{buf: buf}, nil
}

func (b Buffered) Reader() io.Reader {
	r, err := b.buf.Reader()
	if err != nil {
		return errReader{err}
	}
	return r
}

func (b Buffered) Len() (int64, bool) { return b.buf.Size(), true }
func (b Buffered) Close() error       { return b.buf.Close() }

// IsSpilled reports whether the captured body spilled to disk.
func (b Buffered) IsSpilled() bool { return b.buf.IsSpilled() }

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
