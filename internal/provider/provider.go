package provider

import (
	"context"
	"errors"
)

// Message is the generic exchange format between stored context entities and
// a generation backend. Content carries plain text; Parts is used for
// multimodal messages (the two are mutually exclusive).
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

type Part struct {
	Text     string `json:"text,omitempty"`
	ImageB64 string `json:"image_b64,omitempty"`
}

// Text returns the textual content of the message, preferring the last
// structured part when Parts is set.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	return m.Parts[len(m.Parts)-1].Text
}

type TextRequest struct {
	Model    string
	Messages []Message
}

type ImageRequest struct {
	Model   string
	Prompt  string
	Size    string
	Quality string
	// Context messages sent alongside the prompt (may be nil).
	Messages []Message
	// Source images for image2image, raw bytes.
	Images [][]byte
}

// Response is one completed generation call. Content is either plain text, a
// remote URL, or a base64-encoded binary payload depending on the operation.
type Response struct {
	Content    string
	UsedTokens int

	// Rate-limit snapshot from the provider's response headers. Advisory
	// only; HasRateLimit reports whether the headers were present.
	HasRateLimit      bool
	RemainingRequests int
	RemainingTokens   int
	ResetIn           string
}

var ErrEmptyResponse = errors.New("provider: empty response")

type Client interface {
	GenerateText2Text(ctx context.Context, req TextRequest) (*Response, error)
	GenerateText2Image(ctx context.Context, req ImageRequest) (*Response, error)
	GenerateImage2Image(ctx context.Context, req ImageRequest) (*Response, error)
}
