package storage

import (
	"context"
	"errors"
	"testing"
)

func TestFSStore_WriteOpenExists(t *testing.T) {
	st, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := st.Write(context.Background(), "abc-request", []byte("payload")); err != nil {
		t.Fatalf("write: %v", err)
	}

	ok, err := st.Exists(context.Background(), "abc-request")
	if err != nil || !ok {
		t.Fatalf("exists: ok=%v err=%v", ok, err)
	}

	data, err := ReadAll(context.Background(), st, "abc-request")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected data: %q", data)
	}
}

func TestFSStore_NotFound(t *testing.T) {
	st, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, err := st.Open(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ok, err := st.Exists(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("expected missing, ok=%v err=%v", ok, err)
	}
}

func TestFSStore_Overwrite(t *testing.T) {
	st, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := st.Write(context.Background(), "k", []byte("one")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := st.Write(context.Background(), "k", []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, err := ReadAll(context.Background(), st, "k")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "two" {
		t.Fatalf("expected last write to win, got %q", data)
	}
}

func TestFilenames(t *testing.T) {
	if got := RequestFilename("t1"); got != "t1-request" {
		t.Fatalf("unexpected request filename: %q", got)
	}
	if got := ResultFilename("t1"); got != "t1-result" {
		t.Fatalf("unexpected result filename: %q", got)
	}
}
