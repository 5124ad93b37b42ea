package gzipcodec

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func compress(t *testing.T, c *Codec, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := c.Writer(&buf)
	if err != nil {
		t.Fatalf("Writer() error = %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return buf.Bytes()
}

func decompress(t *testing.T, c *Codec, data []byte) []byte {
	t.Helper()
	r, err := c.Reader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Reader() error = %v", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return out
}

func TestCodec_Extension(t *testing.T) {
	if got := New().Extension(); got != "gz" {
		t.Errorf("Extension() = %q, want gz", got)
	}
}

func TestCodec_Stream(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"wordlist", []byte("password\n123456\nletmein\n")},
		{"no trailing newline", []byte(":\nl\nu")},
		{"empty", []byte{}},
		{"repetitive", bytes.Repeat([]byte("qwerty\n"), 20000)},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed := compress(t, c, tt.data)
			if len(tt.data) > 1000 && len(compressed) >= len(tt.data) {
				t.Errorf("compressed %d bytes to %d", len(tt.data), len(compressed))
			}
			if got := decompress(t, c, compressed); !bytes.Equal(got, tt.data) {
				t.Errorf("decompressed %d bytes, want %d", len(got), len(tt.data))
			}
		})
	}
}

func TestCodec_Reader_Concatenated(t *testing.T) {
	c := New()
	joined := append(compress(t, c, []byte("a\n")), compress(t, c, []byte("b\n"))...)

	if got := decompress(t, c, joined); string(got) != "a\nb\n" {
		t.Errorf("decompressed %q, want %q", got, "a\nb\n")
	}
}

func TestCodec_Reader_Errors(t *testing.T) {
	c := New()
	full := compress(t, c, bytes.Repeat([]byte("line\n"), 1000))

	t.Run("not gzip", func(t *testing.T) {
		if _, err := c.Reader(bytes.NewReader([]byte("not gzip data"))); err == nil {
			t.Error("Reader() expected error, got nil")
		}
	})

	t.Run("zero length", func(t *testing.T) {
		if _, err := c.Reader(bytes.NewReader(nil)); err != io.EOF {
			t.Errorf("Reader() error = %v, want io.EOF", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		r, err := c.Reader(bytes.NewReader(full[:len(full)/2]))
		if err != nil {
			t.Fatalf("Reader() error = %v", err)
		}
		defer r.Close()
		if _, err := io.Copy(io.Discard, r); err == nil {
			t.Error("reading truncated stream expected error, got nil")
		}
	})
}

func TestCodec_WithLevel(t *testing.T) {
	data := bytes.Repeat([]byte("password\n123456\nletmein\n"), 2000)

	fast := compress(t, New(WithLevel(gzip.BestSpeed)), data)
	best := compress(t, New(WithLevel(gzip.BestCompression)), data)
	if len(best) > len(fast) {
		t.Errorf("best compression %d bytes, larger than best speed %d bytes", len(best), len(fast))
	}
	if got := decompress(t, New(), best); !bytes.Equal(got, data) {
		t.Error("level 9 stream did not decode to the input")
	}
}

func TestCodec_Writer_InvalidLevel(t *testing.T) {
	if _, err := New(WithLevel(42)).Writer(io.Discard); err == nil {
		t.Error("Writer() expected error for invalid level, got nil")
	}
}
