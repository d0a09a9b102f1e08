package body

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"strings"

	cherrors "github.com/corehttp/corehttp/pkg/errors"
)

// Decompress wraps r with a decoder for the named Content-Encoding token,
// applied after the transfer-coding (chunked or Content-Length) has already
// been stripped, per spec.md §9: content-coding and transfer-coding are
// independent layers and are always un-applied in that order. An
// unrecognized or "identity" coding returns r unchanged.
//
// No third-party compression library in the reference stack is wired for
// this narrow, read-only decode path (see DESIGN.md); compress/gzip and
// compress/flate cover it directly.
func Decompress(r io.Reader, coding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(coding)) {
	case "", "identity":
		return io.NopCloser(r), nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, cherrors.NewBadRequestError("invalid gzip body", err)
		}
		return gz, nil
	case "deflate":
		return flate.NewReader(r), nil
	default:
		return io.NopCloser(r), nil
	}
}
