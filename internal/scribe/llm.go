package scribe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quorvex/scribe/internal/config"
	"github.com/quorvex/scribe/internal/store"
)

const extractionPrompt = `You are a fact extraction engine. Extract durable facts from the event below.

Rules:
1. Extract only explicit facts, no speculation
2. Keep each fact concise, independent and self-contained
3. category must be one of: user_preference/project_context/decision_made/technical_constraint/relationship/goal/learned_pattern/correction
4. confidence must be in [0.0, 1.0]
5. Return no facts at all when the event contains nothing durable

Return strict JSON object:
{"facts":[{"content":"...","category":"...","confidence":0.8}]}

Event (%s):
%s`

// ChatExtractor sends event text to an OpenAI-compatible chat-completions
// endpoint and parses strict-JSON candidates out of the reply. Invalid
// categories from the model are dropped, not errored: one bad candidate must
// not sink the batch.
type ChatExtractor struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewChatExtractor(cfg config.ExtractorConfig) (*ChatExtractor, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if apiKey == "" {
		return nil, fmt.Errorf("missing extractor api key")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("missing extractor base url")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("missing extractor model")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &ChatExtractor{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      cfg.Model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *ChatExtractor) Extract(ev *store.Event) ([]store.CandidateFact, error) {
	content, err := c.complete(fmt.Sprintf(extractionPrompt, ev.Kind, ev.Content))
	if err != nil {
		return nil, fmt.Errorf("extract event %d: %w", ev.ID, err)
	}

	var decoded struct {
		Facts []store.CandidateFact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return nil, fmt.Errorf("parse extraction result: %w", err)
	}

	out := make([]store.CandidateFact, 0, len(decoded.Facts))
	for _, f := range decoded.Facts {
		f.Content = strings.TrimSpace(f.Content)
		if f.Content == "" || !store.ValidCategory(f.Category) {
			continue
		}
		f.Confidence = clampConfidence(f.Confidence)
		f.EventID = ev.ID
		out = append(out, f)
	}
	return out, nil
}

func (c *ChatExtractor) complete(prompt string) (string, error) {
	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"max_tokens":  c.maxTokens,
		"temperature": 0.3,
		"response_format": map[string]string{
			"type": "json_object",
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("extractor model http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}
