package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type OpenAIClient struct {
	BaseURL    string
	APIKey     string
	TextModel  string
	ImageModel string
	Client     *http.Client
}

func NewOpenAIClient(baseURL, apiKey, textModel, imageModel string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if textModel == "" {
		textModel = "gpt-4o"
	}
	if imageModel == "" {
		imageModel = "gpt-image-1"
	}
	return &OpenAIClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		TextModel:  textModel,
		ImageModel: imageModel,
		Client:     &http.Client{Timeout: 120 * time.Second},
	}
}

type openAIMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAITextPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIImagePart struct {
	Type     string            `json:"type"`
	ImageURL map[string]string `json:"image_url"`
}

func toOpenAIMsg(m Message) openAIMsg {
	if len(m.Parts) == 0 {
		return openAIMsg{Role: m.Role, Content: m.Content}
	}
	parts := make([]any, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.ImageB64 != "" {
			parts = append(parts, openAIImagePart{
				Type:     "image_url",
				ImageURL: map[string]string{"url": "data:image/png;base64," + p.ImageB64},
			})
			continue
		}
		parts = append(parts, openAITextPart{Type: "text", Text: p.Text})
	}
	return openAIMsg{Role: m.Role, Content: parts}
}

type openAIChatReq struct {
	Model    string      `json:"model"`
	Messages []openAIMsg `json:"messages"`
}

type openAIChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIImageReq struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
	N       int    `json:"n"`
}

type openAIImageResp struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) GenerateText2Text(ctx context.Context, req TextRequest) (*Response, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	model := req.Model
	if model == "" {
		model = c.TextModel
	}

	body := openAIChatReq{Model: model}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toOpenAIMsg(m))
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readAPIError("openai", resp)
	}

	var decoded openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	out := &Response{
		Content:    decoded.Choices[0].Message.Content,
		UsedTokens: decoded.Usage.TotalTokens,
	}
	readRateLimit(out, resp.Header)
	return out, nil
}

func (c *OpenAIClient) GenerateText2Image(ctx context.Context, req ImageRequest) (*Response, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	model := req.Model
	if model == "" {
		model = c.ImageModel
	}

	b, err := json.Marshal(openAIImageReq{
		Model:   model,
		Prompt:  req.Prompt,
		Size:    req.Size,
		Quality: req.Quality,
		N:       1,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/images/generations", strings.TrimRight(c.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readAPIError("openai", resp)
	}
	return decodeImageResponse(resp)
}

func (c *OpenAIClient) GenerateImage2Image(ctx context.Context, req ImageRequest) (*Response, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	model := req.Model
	if model == "" {
		model = c.ImageModel
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", model); err != nil {
		return nil, err
	}
	if err := mw.WriteField("prompt", req.Prompt); err != nil {
		return nil, err
	}
	if req.Size != "" {
		if err := mw.WriteField("size", req.Size); err != nil {
			return nil, err
		}
	}
	if req.Quality != "" {
		if err := mw.WriteField("quality", req.Quality); err != nil {
			return nil, err
		}
	}
	for i, img := range req.Images {
		fw, err := mw.CreateFormFile("image[]", fmt.Sprintf("image-%d.png", i))
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(img); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/images/edits", strings.TrimRight(c.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readAPIError("openai", resp)
	}
	return decodeImageResponse(resp)
}

func decodeImageResponse(resp *http.Response) (*Response, error) {
	var decoded openAIImageResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, errors.New(decoded.Error.Message)
	}
	if len(decoded.Data) == 0 {
		return nil, ErrEmptyResponse
	}
	content := decoded.Data[0].B64JSON
	if content == "" {
		content = decoded.Data[0].URL
	}
	if content == "" {
		return nil, ErrEmptyResponse
	}

	out := &Response{
		Content:    content,
		UsedTokens: decoded.Usage.TotalTokens,
	}
	readRateLimit(out, resp.Header)
	return out, nil
}

func readAPIError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", name, msg)
}

func readRateLimit(out *Response, h http.Header) {
	reqs := h.Get("x-ratelimit-remaining-requests")
	toks := h.Get("x-ratelimit-remaining-tokens")
	if reqs == "" && toks == "" {
		return
	}
	out.HasRateLimit = true
	if n, err := strconv.Atoi(reqs); err == nil {
		out.RemainingRequests = n
	}
	if n, err := strconv.Atoi(toks); err == nil {
		out.RemainingTokens = n
	}
	out.ResetIn = h.Get("x-ratelimit-reset-requests")
}
