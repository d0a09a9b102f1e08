package body

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"math/rand"
	"testing"

	cherrors "github.com/corehttp/corehttp/pkg/errors"
)

func TestEmptyBody(t *testing.T) {
	var b Body = Empty{}
	n, ok := b.Len()
	if !ok || n != 0 {
		t.Fatalf("Len() = %d, %v", n, ok)
	}
	data, err := io.ReadAll(b.Reader())
	if err != nil || len(data) != 0 {
		t.Fatalf("Reader() produced %q, err=%v", data, err)
	}
}

func TestBytesBody(t *testing.T) {
	b := NewBytes([]byte("hello"))
	n, ok := b.Len()
	if !ok || n != 5 {
		t.Fatalf("Len() = %d, %v", n, ok)
	}
	data, _ := io.ReadAll(b.Reader())
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}

func TestReaderBodyUnknownLength(t *testing.T) {
	b := NewReader(bytes.NewReader([]byte("x")))
	if _, ok := b.Len(); ok {
		t.Fatal("Len() should report unknown")
	}
}

func TestRequiresBodyRules(t *testing.T) {
	cases := []struct {
		method string
		status int
		want   bool
	}{
		{method: "GET", want: false},
		{method: "POST", want: true},
		{method: "PUT", want: true},
		{method: "DELETE", want: false},
		{status: 200, want: true},
		{status: 204, want: false},
		{status: 304, want: false},
		{status: 100, want: false},
	}
	for _, c := range cases {
		got := RequiresBody(c.method, c.status)
		if got != c.want {
			t.Errorf("RequiresBody(%q, %d) = %v, want %v", c.method, c.status, got, c.want)
		}
	}
}

func TestChunkedRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	payload := make([]byte, 50000)
	rnd.Read(payload)

	var wire bytes.Buffer
	cw := NewChunkedWriter(&wire)
	// Write in irregular-sized pieces to exercise multi-chunk framing.
	off := 0
	for off < len(payload) {
		n := 1 + rnd.Intn(777)
		if off+n > len(payload) {
			n = len(payload) - off
		}
		if _, err := cw.Write(payload[off : off+n]); err != nil {
			t.Fatalf("Write: %v", err)
		}
		off += n
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cr := NewChunkedReader(bufio.NewReader(&wire), 0)
	got, err := io.ReadAll(cr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}

	// Once drained, further reads keep returning EOF.
	n, err := cr.Read(make([]byte, 10))
	if n != 0 || err != io.EOF {
		t.Fatalf("post-drain Read = (%d, %v), want (0, EOF)", n, err)
	}
}

func TestChunkedEmptyBody(t *testing.T) {
	var wire bytes.Buffer
	cw := NewChunkedWriter(&wire)
	if err := cw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if wire.String() != "0\r\n\r\n" {
		t.Fatalf("wire = %q", wire.String())
	}
	cr := NewChunkedReader(bufio.NewReader(&wire), 0)
	got, err := io.ReadAll(cr)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %q, err=%v", got, err)
	}
}

func TestChunkedReaderRejectsOversizeChunkLine(t *testing.T) {
	var sb bytes.Buffer
	sb.WriteString("ff")
	for i := 0; i < 70000; i++ {
		sb.WriteByte('f')
	}
	sb.WriteString("\r\n")

	cr := NewChunkedReader(bufio.NewReader(&sb), 64*1024)
	_, err := io.ReadAll(cr)
	if err == nil {
		t.Fatal("expected error for oversize chunk size line")
	}
	if cherrors.GetErrorType(err) != cherrors.ErrorTypeBodyLimit {
		t.Fatalf("error type = %v, want BodyLimit", cherrors.GetErrorType(err))
	}
}

func TestLimitedReaderEnforcesCap(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 100)
	lr := NewLimitedReader(bytes.NewReader(data), 50)
	_, err := io.ReadAll(lr)
	if err == nil {
		t.Fatal("expected error exceeding limit")
	}
	if cherrors.GetErrorType(err) != cherrors.ErrorTypeBodyLimit {
		t.Fatalf("error type = %v, want BodyLimit", cherrors.GetErrorType(err))
	}
}

func TestLimitedReaderAllowsExactLimit(t *testing.T) {
	data := bytes.Repeat([]byte("b"), 50)
	lr := NewLimitedReader(bytes.NewReader(data), 50)
	got, err := io.ReadAll(lr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("got %d bytes, want 50", len(got))
	}
}

func TestSizedReaderDetectsShortBody(t *testing.T) {
	sr := NewSizedReader(bytes.NewReader([]byte("short")), 10)
	_, err := io.ReadAll(sr)
	if err == nil {
		t.Fatal("expected error for truncated sized body")
	}
}

func TestDecompressGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte("payload"))
	gw.Close()

	r, err := Decompress(&buf, "gzip")
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q", got)
	}
}

func TestDecompressIdentityPassthrough(t *testing.T) {
	r, err := Decompress(bytes.NewReader([]byte("raw")), "identity")
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	got, _ := io.ReadAll(r)
	if string(got) != "raw" {
		t.Fatalf("got %q", got)
	}
}
