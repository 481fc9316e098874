package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStoreReadRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.pcap")
	if err := os.WriteFile(path, []byte("abcdefghij"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	store := NewLocalStore()

	size, err := store.Size(context.Background(), path)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 10 {
		t.Fatalf("size = %d, want 10", size)
	}

	got, err := store.ReadRange(context.Background(), path, 3, 4)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(got) != "defg" {
		t.Fatalf("range = %q, want defg", got)
	}

	got, err = store.ReadRange(context.Background(), path, 8, 100)
	if err != nil {
		t.Fatalf("ReadRange tail: %v", err)
	}
	if string(got) != "ij" {
		t.Fatalf("tail = %q, want ij", got)
	}
}

func TestLocalStoreMissingFile(t *testing.T) {
	store := NewLocalStore()
	if _, err := store.Size(context.Background(), filepath.Join(t.TempDir(), "absent")); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}
