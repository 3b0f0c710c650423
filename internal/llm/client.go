// Package llm wraps an OpenAI-compatible API (Groq, OpenAI, OpenRouter) for
// chat completion, embeddings, and vision description.
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Message is a provider-bound chat message. Only role and content are ever
// sent: persisted metadata (ids, timestamps) must be stripped before building
// these, since extraneous fields have caused provider-side request rejection.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config holds connection settings and model names.
type Config struct {
	BaseURL     string
	APIKey      string
	EmbedModel  string
	EmbedDim    int
	VisionModel string
}

// Client is a thin wrapper over the go-openai SDK.
type Client struct {
	api         *openai.Client
	embedModel  string
	embedDim    int
	visionModel string
}

// New creates a Client for the given OpenAI-compatible endpoint.
func New(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		embedModel:  cfg.EmbedModel,
		embedDim:    cfg.EmbedDim,
		visionModel: cfg.VisionModel,
	}
}

// EmbedModel returns the configured embedding model identifier. It is stored
// alongside every vector so model drift is detectable.
func (c *Client) EmbedModel() string {
	return c.embedModel
}

// Complete performs a single non-streaming chat completion. When jsonMode is
// set, structured JSON output is requested; providers may not honor it
// reliably, so callers must still parse defensively.
func (c *Client) Complete(ctx context.Context, model, system string, msgs []Message, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
	}
	if system != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns embedding vectors for the given texts. Single strings and
// batches go through the same call; every returned vector is checked against
// the configured dimensionality, since a silent mismatch between ingestion
// and query time produces nonsensical similarity scores.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("creating embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d vectors for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if c.embedDim > 0 && len(d.Embedding) != c.embedDim {
			return nil, fmt.Errorf("embedding dimensionality mismatch: model %s returned %d, expected %d",
				c.embedModel, len(d.Embedding), c.embedDim)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// DescribeImage sends image bytes to the vision model with the given prompt
// and returns the textual description.
func (c *Client) DescribeImage(ctx context.Context, prompt string, data []byte, mimeType string) (string, error) {
	if mimeType == "" {
		return "", fmt.Errorf("mime type required for image description")
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision description: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision description: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}
