// Package menu asks an assistant for the items a family would order and
// falls back to a fixed menu when it cannot.
package menu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultMaxPolls  = 30
	DefaultPollEvery = time.Second
	defaultTimeout   = 30 * time.Second
)

var (
	ErrNotConfigured = errors.New("menu: assistant not configured")
	ErrRunTimeout    = errors.New("menu: assistant run did not complete in time")
	ErrEmptyResponse = errors.New("menu: assistant returned no items")
)

// Suggester proposes the items for a family of the given size.
type Suggester interface {
	Suggest(ctx context.Context, familySize int) ([]string, error)
}

// AssistantClient drives the OpenAI Assistants thread/run flow.
type AssistantClient struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	apiKey      string
	assistantID string
	maxPolls    int
	pollEvery   time.Duration
}

// AssistantConfig configures an AssistantClient. Zero values take defaults.
type AssistantConfig struct {
	APIKey      string
	AssistantID string
	BaseURL     string
	RPS         float64
	MaxPolls    int
	PollEvery   time.Duration
}

func NewAssistantClient(cfg AssistantConfig) *AssistantClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 2
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultMaxPolls
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = DefaultPollEvery
	}
	return &AssistantClient{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RPS), 4),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		assistantID: cfg.AssistantID,
		maxPolls:    cfg.MaxPolls,
		pollEvery:   cfg.PollEvery,
	}
}

type threadObject struct {
	ID string `json:"id"`
}

type runObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

type orderPayload struct {
	OrderItems []string `json:"order_items"`
}

// Suggest creates a thread, posts the request, starts a run and polls it
// until it finishes or the poll budget runs out.
func (c *AssistantClient) Suggest(ctx context.Context, familySize int) ([]string, error) {
	if c.apiKey == "" || c.assistantID == "" {
		return nil, ErrNotConfigured
	}

	var thread threadObject
	if err := c.request(ctx, http.MethodPost, "/threads", struct{}{}, &thread); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	msg := map[string]string{
		"role":    "user",
		"content": fmt.Sprintf("Please create an order for a family of %d people.", familySize),
	}
	if err := c.request(ctx, http.MethodPost, "/threads/"+thread.ID+"/messages", msg, nil); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	var run runObject
	if err := c.request(ctx, http.MethodPost, "/threads/"+thread.ID+"/runs", map[string]string{"assistant_id": c.assistantID}, &run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	status, err := c.waitForRun(ctx, thread.ID, run.ID)
	if err != nil {
		return nil, err
	}
	if status != "completed" {
		return nil, fmt.Errorf("menu: assistant run ended with status %q", status)
	}

	var list messageList
	if err := c.request(ctx, http.MethodGet, "/threads/"+thread.ID+"/messages", nil, &list); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for _, m := range list.Data {
		if m.Role != "assistant" || len(m.Content) == 0 {
			continue
		}
		return parseItems(m.Content[0].Text.Value)
	}
	return nil, ErrEmptyResponse
}

func (c *AssistantClient) waitForRun(ctx context.Context, threadID, runID string) (string, error) {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		var run runObject
		if err := c.request(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &run); err != nil {
			return "", fmt.Errorf("retrieve run: %w", err)
		}
		switch run.Status {
		case "completed", "failed", "cancelled", "expired", "incomplete":
			return run.Status, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
	return "", ErrRunTimeout
}

func parseItems(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	var p orderPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &p); err != nil {
		return nil, fmt.Errorf("decode assistant order: %w", err)
	}
	items := p.OrderItems[:0]
	for _, it := range p.OrderItems {
		if it = strings.TrimSpace(it); it != "" {
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		return nil, ErrEmptyResponse
	}
	return items, nil
}

func (c *AssistantClient) request(ctx context.Context, method, path string, body, result any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
