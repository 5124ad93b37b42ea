package diskstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/discochess/listpress/internal/store"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, dir
}

func TestStore_PutGet(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	meta := map[string]string{"type": "wordlist"}
	if err := s.Put(ctx, "lists", "wordlist/common.gz", strings.NewReader("payload"), meta); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "lists", "wordlist", "common.gz")); err != nil {
		t.Errorf("object file missing: %v", err)
	}

	rc, err := s.Get(ctx, "lists", "wordlist/common.gz")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Get() = %q, want %q", got, "payload")
	}

	gotMeta, err := s.Metadata("lists", "wordlist/common.gz")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if gotMeta["type"] != "wordlist" {
		t.Errorf("Metadata() = %v", gotMeta)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.Get(context.Background(), "lists", "wordlist/missing.txt")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestStore_PutFailedReaderLeavesNothing(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	body := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("boom")))
	if err := s.Put(ctx, "lists", "rules/best64.gz", body, nil); err == nil {
		t.Fatal("Put() expected error, got nil")
	}

	ok, err := s.Exists(ctx, "lists", "rules/best64.gz")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if ok {
		t.Error("object exists after failed Put")
	}

	entries, err := os.ReadDir(filepath.Join(dir, "lists", "rules"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("leftover files after failed Put: %v", entries)
	}
}

func TestStore_CopyReplacesMetadata(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "lists", "rules/a.gz", strings.NewReader("x"), map[string]string{"old": "1"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Self-copy only rewrites metadata.
	if err := s.Copy(ctx, "lists", "rules/a.gz", "rules/a.gz", map[string]string{"lines": "3"}); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	meta, _ := s.Metadata("lists", "rules/a.gz")
	if _, ok := meta["old"]; ok || meta["lines"] != "3" {
		t.Errorf("metadata after self-copy = %v, want replaced", meta)
	}

	if err := s.Copy(ctx, "lists", "rules/a.gz", "rules/b.gz", map[string]string{"size": "1"}); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	ok, _ := s.Exists(ctx, "lists", "rules/b.gz")
	if !ok {
		t.Error("copied object missing")
	}
	meta, _ = s.Metadata("lists", "rules/b.gz")
	if meta["size"] != "1" || len(meta) != 1 {
		t.Errorf("copied metadata = %v", meta)
	}

	if err := s.Copy(ctx, "lists", "rules/missing.gz", "rules/c.gz", nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Copy() missing source error = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteIdempotent(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "lists", "rules/a.gz", strings.NewReader("x"), map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx, "lists", "rules/a.gz"); err != nil {
			t.Fatalf("Delete() #%d error = %v", i+1, err)
		}
	}
	if ok, _ := s.Exists(ctx, "lists", "rules/a.gz"); ok {
		t.Error("object exists after Delete")
	}
	if meta, _ := s.Metadata("lists", "rules/a.gz"); meta != nil {
		t.Errorf("metadata survives Delete: %v", meta)
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	tests := []struct {
		bucket, key string
	}{
		{"lists", "../escape"},
		{"lists", "/abs/path"},
		{"", "rules/a"},
		{"a/b", "rules/a"},
		{".metadata", "rules/a"},
		{"lists", ""},
	}
	for _, tt := range tests {
		if _, err := s.Exists(ctx, tt.bucket, tt.key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Exists(%q, %q) error = %v, want ErrInvalidKey", tt.bucket, tt.key, err)
		}
	}
}

func TestNew_NotADirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(f); err == nil {
		t.Error("New() on a file expected error, got nil")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("New() on a missing path expected error, got nil")
	}
}
