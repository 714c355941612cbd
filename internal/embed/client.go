// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embed turns issue content into vectors and optional AI
// summaries via an OpenAI-compatible embeddings API, with a
// content-addressed cache so re-enrichment only pays for changed
// records.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmbeddingUnavailable is returned when the provider cannot produce
// a vector for a record after retries. The record keeps its previous
// embedding, if any.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Provider produces embeddings and completions. The production
// implementation is Client; tests substitute fakes.
type Provider interface {
	Embed(ctx context.Context, content string) ([]float32, error)
	Complete(ctx context.Context, prompt string) (string, error)
}

// Content limits applied before a request leaves the process. The API
// rejects oversized inputs, so the body and comment text are truncated
// up front and the whole sanitized payload is capped.
const (
	maxBodyChars     = 15000
	maxCommentChars  = 8000
	maxContentChars  = 50000
	titleRetryLimit  = 20000
	maxSummaryTokens = 500
)

// Client calls an OpenAI-compatible API. The base URL selects the
// provider; the default configuration points at Mistral.
type Client struct {
	api          *openai.Client
	model        string
	summaryModel string
}

// NewClient builds a provider client from the embedding section of the
// config.
func NewClient(apiKey, baseURL, model, summaryModel string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:          openai.NewClientWithConfig(cfg),
		model:        model,
		summaryModel: summaryModel,
	}
}

// Embed returns the vector for content. Oversized content that the
// provider rejects is retried with just the first line, which keeps a
// degraded vector for pathological records instead of none.
func (c *Client) Embed(ctx context.Context, content string) ([]float32, error) {
	sanitized := Sanitize(content)
	if sanitized == "" {
		return nil, fmt.Errorf("empty content: %w", ErrEmbeddingUnavailable)
	}

	vec, err := c.embedOnce(ctx, sanitized)
	if err == nil {
		return vec, nil
	}

	if len(sanitized) > titleRetryLimit {
		firstLine, _, _ := strings.Cut(content, "\n")
		firstLine = Sanitize(firstLine)
		if firstLine != "" && len(firstLine) < 1000 {
			if vec, retryErr := c.embedOnce(ctx, firstLine); retryErr == nil {
				return vec, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
}

func (c *Client) embedOnce(ctx context.Context, input string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: []string{input},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("provider returned no embedding data")
	}
	return resp.Data[0].Embedding, nil
}

// Complete returns a short completion for prompt, used for record
// summaries.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.summaryModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxSummaryTokens,
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("provider returned no completion choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Sanitize strips null bytes, BOMs, and control characters, collapses
// whitespace, and caps the length for the embeddings API.
func Sanitize(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		switch {
		case r == 0 || r == '\uFEFF':
			// dropped
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteRune(' ')
		case unicode.IsControl(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	if len(out) > maxContentChars {
		cut := maxContentChars
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "..."
	}
	return out
}
