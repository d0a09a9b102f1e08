package body

import (
	"io"

	cherrors "github.com/corehttp/corehttp/pkg/errors"
)

// LimitedReader reads at most limit bytes from r, returning
// ErrBodyTooLarge if the underlying stream has more, instead of silently
// truncating like io.LimitReader.
type LimitedReader struct {
	r     io.Reader
	limit int64
	read  int64
}

// NewLimitedReader wraps r with a hard cap of limit bytes.
func NewLimitedReader(r io.Reader, limit int64) *LimitedReader {
	return &LimitedReader{r: r, limit: limit}
}

func (lr *LimitedReader) Read(p []byte) (int, error) {
	if lr.read >= lr.limit {
		// Probe for one more byte to distinguish "exactly at the limit" from
		// "more data follows".
		var probe [1]byte
		n, err := lr.r.Read(probe[:])
		if n > 0 {
			return 0, cherrors.NewBodyTooLargeError("body exceeds configured limit")
		}
		return 0, err
	}
	max := lr.limit - lr.read
	if int64(len(p)) > max {
		p = p[:max]
	}
	n, err := lr.r.Read(p)
	lr.read += int64(n)
	return n, err
}

// SizedReader reads exactly length bytes from r, then returns io.EOF, the
// standard shape for a Content-Length-framed body.
type SizedReader struct {
	r       io.Reader
	remain  int64
}

// NewSizedReader wraps r to stop after exactly length bytes.
func NewSizedReader(r io.Reader, length int64) *SizedReader {
	return &SizedReader{r: r, remain: length}
}

func (sr *SizedReader) Read(p []byte) (int, error) {
	if sr.remain <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > sr.remain {
		p = p[:sr.remain]
	}
	n, err := sr.r.Read(p)
	sr.remain -= int64(n)
	if err == io.EOF && sr.remain > 0 {
		return n, cherrors.NewIOError("reading sized body", io.ErrUnexpectedEOF)
	}
	return n, err
}
