package contexts

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/quietriver/genstack/internal/provider"
	"github.com/quietriver/genstack/internal/storage"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	return st
}

func TestBuildMessages_Text(t *testing.T) {
	m := NewMapper(newTestStore(t))

	msgs, err := m.BuildMessages(context.Background(), []Entity{
		{ContentType: ContentText, Content: "hi there", Role: RoleUser},
		{ContentType: ContentText, Content: "hello", Role: RoleAssistant},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hi there" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "hello" {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}
}

func TestBuildMessages_ImageFromStorageKey(t *testing.T) {
	st := newTestStore(t)
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	if err := st.Write(context.Background(), "task-1-result", raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewMapper(st)
	msgs, err := m.BuildMessages(context.Background(), []Entity{
		{ContentType: ContentImage, Content: "task-1-result", ImageRef: ImageRefKey, Role: RoleAssistant},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := base64.StdEncoding.EncodeToString(raw)
	if len(msgs) != 1 || len(msgs[0].Parts) != 1 || msgs[0].Parts[0].ImageB64 != want {
		t.Fatalf("unexpected message: %+v", msgs)
	}
}

func TestBuildMessages_ImageFromResultURL(t *testing.T) {
	st := newTestStore(t)
	raw := []byte("raw-image-bytes")
	if err := st.Write(context.Background(), storage.ResultFilename("abc"), raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewMapper(st)
	msgs, err := m.BuildMessages(context.Background(), []Entity{
		{
			ContentType: ContentImage,
			Content:     "http://localhost:8080/api/tasks/abc/result",
			ImageRef:    ImageRefURL,
			Role:        RoleAssistant,
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := base64.StdEncoding.EncodeToString(raw)
	if msgs[0].Parts[0].ImageB64 != want {
		t.Fatalf("expected image resolved via result url")
	}
}

func TestBuildMessages_LegacySniffing(t *testing.T) {
	st := newTestStore(t)
	blob := strings.Repeat("A", 300) // long content, treated as encoded blob
	m := NewMapper(st)

	msgs, err := m.BuildMessages(context.Background(), []Entity{
		{ContentType: ContentImage, Content: blob, Role: RoleUser}, // no ref recorded
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if msgs[0].Parts[0].ImageB64 != blob {
		t.Fatalf("expected blob passed through untouched")
	}
}

func TestEntityFromMessage(t *testing.T) {
	ent, err := EntityFromMessage(provider.Message{Role: "assistant", Content: "done"}, "ctx-1")
	if err != nil {
		t.Fatalf("text message: %v", err)
	}
	if ent.ContentType != ContentText || ent.Content != "done" || ent.Role != RoleAssistant {
		t.Fatalf("unexpected entity: %+v", ent)
	}

	ent, err = EntityFromMessage(provider.Message{
		Role:  "assistant",
		Parts: []provider.Part{{ImageB64: "aW1n"}},
	}, "ctx-1")
	if err != nil {
		t.Fatalf("image message: %v", err)
	}
	if ent.ContentType != ContentImage || ent.ImageRef != ImageRefBlob {
		t.Fatalf("unexpected entity: %+v", ent)
	}

	if _, err := EntityFromMessage(provider.Message{Role: "user"}, "ctx-1"); err == nil {
		t.Fatalf("expected error for empty message")
	}
}
