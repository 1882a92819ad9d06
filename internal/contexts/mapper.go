package contexts

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/quietriver/genstack/internal/provider"
	"github.com/quietriver/genstack/internal/storage"
)

// Mapper translates stored entities into provider messages and back. Image
// entities are resolved through the object store and inlined as base64.
type Mapper struct {
	store storage.Store
}

func NewMapper(store storage.Store) *Mapper {
	return &Mapper{store: store}
}

// BuildMessages produces one provider message per entity, in order.
func (m *Mapper) BuildMessages(ctx context.Context, entities []Entity) ([]provider.Message, error) {
	out := make([]provider.Message, 0, len(entities))
	for _, ent := range entities {
		msg, err := m.buildOne(ctx, ent)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *Mapper) buildOne(ctx context.Context, ent Entity) (provider.Message, error) {
	switch ent.ContentType {
	case ContentText:
		return provider.Message{Role: string(ent.Role), Content: ent.Content}, nil
	case ContentImage:
		b64, err := m.encodeImage(ctx, ent)
		if err != nil {
			return provider.Message{}, err
		}
		return provider.Message{
			Role:  string(ent.Role),
			Parts: []provider.Part{{ImageB64: b64}},
		}, nil
	}
	return provider.Message{}, fmt.Errorf("contexts: unknown entity content type %q", ent.ContentType)
}

func (m *Mapper) encodeImage(ctx context.Context, ent Entity) (string, error) {
	ref := ent.ImageRef
	if ref == "" {
		// Rows written before the ref column existed; fall back to the old
		// content sniffing.
		ref = sniffImageRef(ent.Content)
	}

	switch ref {
	case ImageRefBlob:
		return ent.Content, nil
	case ImageRefURL:
		return m.readAndEncode(ctx, keyFromResultURL(ent.Content))
	case ImageRefKey:
		return m.readAndEncode(ctx, ent.Content)
	}
	return "", fmt.Errorf("contexts: unknown image ref %q", ref)
}

func (m *Mapper) readAndEncode(ctx context.Context, key string) (string, error) {
	data, err := storage.ReadAll(ctx, m.store, key)
	if err != nil {
		return "", fmt.Errorf("contexts: read image %q: %w", key, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// sniffImageRef reproduces the legacy heuristics: long content is assumed to
// be an encoded blob already, anything with a URL scheme is a result URL,
// the rest is a storage key.
func sniffImageRef(content string) ImageRef {
	if len(content) > 256 {
		return ImageRefBlob
	}
	if strings.Contains(content, "http") {
		return ImageRefURL
	}
	return ImageRefKey
}

// keyFromResultURL recovers the storage key from a task result URL of the
// shape .../api/tasks/<task-id>/result.
func keyFromResultURL(u string) string {
	u = strings.TrimSuffix(u, "/result")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		u = u[i+1:]
	}
	return storage.ResultFilename(u)
}

// EntityFromMessage performs the inverse mapping: exactly one entity per
// message. Text wins when the message carries plain content or a trailing
// text part; a leading image part maps to an image entity. Anything else is
// an unmappable shape.
func EntityFromMessage(msg provider.Message, contextID string) (*Entity, error) {
	if msg.Content == "" && len(msg.Parts) == 0 {
		return nil, fmt.Errorf("contexts: empty message content")
	}

	if msg.Content != "" || msg.Parts[len(msg.Parts)-1].Text != "" {
		return &Entity{
			ContextID:   contextID,
			ContentType: ContentText,
			Content:     msg.Text(),
			Role:        Role(msg.Role),
		}, nil
	}
	if msg.Parts[0].ImageB64 != "" {
		return &Entity{
			ContextID:   contextID,
			ContentType: ContentImage,
			Content:     msg.Parts[0].ImageB64,
			ImageRef:    ImageRefBlob,
			Role:        Role(msg.Role),
		}, nil
	}
	return nil, fmt.Errorf("contexts: unmappable message content")
}
