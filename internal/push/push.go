// Package push sends best-effort broadcast notifications to registered devices.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Notification is the visible part of a push message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Broadcaster delivers a notification to a set of device tokens.
type Broadcaster interface {
	Broadcast(ctx context.Context, n Notification, tokens []string) error
}

// TokenSource lists every registered device token.
type TokenSource interface {
	ListAll(ctx context.Context) ([]string, error)
}

// HTTPBroadcaster posts multicast messages to a push gateway.
type HTTPBroadcaster struct {
	httpClient *http.Client
	endpoint   string
	serverKey  string
}

func NewHTTPBroadcaster(endpoint, serverKey string) *HTTPBroadcaster {
	return &HTTPBroadcaster{
		httpClient: &http.Client{Timeout: defaultTimeout},
		endpoint:   endpoint,
		serverKey:  serverKey,
	}
}

type multicastMessage struct {
	Notification Notification `json:"notification"`
	Tokens       []string     `json:"tokens"`
}

// Broadcast sends one multicast request carrying every token.
func (b *HTTPBroadcaster) Broadcast(ctx context.Context, n Notification, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	data, err := json.Marshal(multicastMessage{Notification: n, Tokens: tokens})
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.serverKey != "" {
		req.Header.Set("Authorization", "key="+b.serverKey)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	return nil
}

// Noop drops every notification. Used when no gateway is configured.
type Noop struct{}

func (Noop) Broadcast(context.Context, Notification, []string) error { return nil }

// Dispatcher fans a notification out to all registered tokens in the
// background. Failures are logged and never reach the caller.
type Dispatcher struct {
	tokens  TokenSource
	sender  Broadcaster
	logger  *slog.Logger
	timeout time.Duration
}

func NewDispatcher(tokens TokenSource, sender Broadcaster, logger *slog.Logger) *Dispatcher {
	if sender == nil {
		sender = Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{tokens: tokens, sender: sender, logger: logger, timeout: 30 * time.Second}
}

// Go starts the broadcast detached from the caller's context and returns a
// channel closed when it has finished.
func (d *Dispatcher) Go(n Notification) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.Send(ctx, n); err != nil {
			d.logger.Error("push broadcast failed", "title", n.Title, "error", err)
		}
	}()
	return done
}

// Send broadcasts synchronously.
func (d *Dispatcher) Send(ctx context.Context, n Notification) error {
	tokens, err := d.tokens.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	if err := d.sender.Broadcast(ctx, n, tokens); err != nil {
		return err
	}
	d.logger.Info("push broadcast sent", "title", n.Title, "devices", len(tokens))
	return nil
}
