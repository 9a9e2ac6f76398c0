// Package whatsapp implements the WhatsApp Business Cloud API channel:
// webhook payload parsing, payload rendering with field-limit validation,
// Markdown conversion, and an outbound message client.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/danarsa/aruna"
)

const (
	defaultBaseURL = "https://graph.facebook.com/v19.0"

	// Text bodies above this size are split into multiple messages, well
	// under the 4096 hard limit so no chunk is ever truncated.
	chunkSize = 3800
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the Graph API base URL (test servers).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithClientLogger sets a structured logger. If not set, no logs are
// emitted.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// Client sends messages through the WhatsApp Business Cloud API.
type Client struct {
	token         string
	phoneNumberID string
	baseURL       string
	httpClient    *http.Client
	logger        *slog.Logger
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// NewClient creates a WhatsApp API client for one business phone number.
func NewClient(token, phoneNumberID string, opts ...ClientOption) *Client {
	c := &Client{
		token:         token,
		phoneNumberID: phoneNumberID,
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{},
		logger:        nopLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendPayload converts the assistant's Markdown body to WhatsApp
// formatting, renders the payload for `to`, and sends it.
func (c *Client) SendPayload(ctx context.Context, to string, payload aruna.ChannelPayload) error {
	payload.Body = MarkdownToWhatsApp(payload.Body)
	return c.Send(ctx, Render(payload, to))
}

// Send posts one message. Long text bodies are split into multiple
// messages of at most chunkSize characters each.
func (c *Client) Send(ctx context.Context, msg OutboundMessage) error {
	if msg.Type == "text" && msg.Text != nil {
		body := []rune(msg.Text.Body)
		if len(body) > chunkSize {
			for start := 0; start < len(body); start += chunkSize {
				end := start + chunkSize
				if end > len(body) {
					end = len(body)
				}
				chunk := msg
				chunk.Text = &Text{Body: string(body[start:end])}
				if err := c.post(ctx, chunk); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return c.post(ctx, msg)
}

func (c *Client) post(ctx context.Context, msg OutboundMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("whatsapp: marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("whatsapp: send failed", "status", resp.StatusCode, "to", msg.To, "body", string(respBody))
		return fmt.Errorf("whatsapp: send message: http %d: %s", resp.StatusCode, respBody)
	}
	c.logger.Debug("whatsapp: message sent", "to", msg.To, "type", msg.Type)
	return nil
}
