package body

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

func TestDrainInMemory(t *testing.T) {
	b, err := Drain(strings.NewReader("hello world"), 0)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	defer b.Close()

	if b.IsSpilled() {
		t.Fatal("small body should not spill to disk")
	}
	if n, ok := b.Len(); !ok || n != 11 {
		t.Fatalf("Len() = %d, %v", n, ok)
	}
	data, err := io.ReadAll(b.Reader())
	if err != nil || string(data) != "hello world" {
		t.Fatalf("Reader() = %q, err=%v", data, err)
	}
}

func TestDrainSpillsAboveMemLimit(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 1024)
	b, err := Drain(bytes.NewReader(payload), 64)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	defer b.Close()

	if !b.IsSpilled() {
		t.Fatal("body above the memory limit should spill to disk")
	}
	if n, ok := b.Len(); !ok || n != int64(len(payload)) {
		t.Fatalf("Len() = %d, %v", n, ok)
	}
	data, err := io.ReadAll(b.Reader())
	if err != nil || !bytes.Equal(data, payload) {
		t.Fatalf("Reader() returned %d bytes, err=%v", len(data), err)
	}
}

func TestDrainReaderIsRereadable(t *testing.T) {
	b, err := Drain(strings.NewReader("repeat me"), 0)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	defer b.Close()

	first, _ := io.ReadAll(b.Reader())
	second, _ := io.ReadAll(b.Reader())
	if string(first) != "repeat me" || string(second) != "repeat me" {
		t.Fatalf("Reader() should be re-openable: first=%q second=%q", first, second)
	}
}

func TestDrainCloseRemovesSpillFile(t *testing.T) {
	payload := bytes.Repeat([]byte("y"), 1024)
	b, err := Drain(bytes.NewReader(payload), 32)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !b.IsSpilled() {
		t.Fatal("expected spill")
	}
	path := b.buf.Path()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("spill file %q still present after Close (stat err=%v)", path, err)
	}
	if _, err := b.Reader().Read(make([]byte, 1)); err == nil {
		t.Fatal("Reader() after Close should fail")
	}
}
