package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danarsa/aruna"
)

// captureServer records every message body posted to the messages endpoint.
func captureServer(t *testing.T, status int) (*httptest.Server, *[]OutboundMessage, *[]http.Header) {
	t.Helper()
	var msgs []OutboundMessage
	var headers []http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var msg OutboundMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode body: %v", err)
		}
		msgs = append(msgs, msg)
		headers = append(headers, r.Header.Clone())
		w.WriteHeader(status)
		w.Write([]byte(`{"messages":[{"id":"wamid.X"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &msgs, &headers
}

func TestSend(t *testing.T) {
	srv, msgs, headers := captureServer(t, http.StatusOK)
	c := NewClient("token-abc", "12345", WithBaseURL(srv.URL))

	err := c.Send(context.Background(), OutboundMessage{
		MessagingProduct: "whatsapp",
		To:               "628111222333",
		Type:             "text",
		Text:             &Text{Body: "hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*msgs) != 1 {
		t.Fatalf("got %d requests, want 1", len(*msgs))
	}
	if (*msgs)[0].Text.Body != "hello" {
		t.Errorf("got %q", (*msgs)[0].Text.Body)
	}
	if got := (*headers)[0].Get("Authorization"); got != "Bearer token-abc" {
		t.Errorf("got auth header %q", got)
	}
	if got := (*headers)[0].Get("Content-Type"); got != "application/json" {
		t.Errorf("got content type %q", got)
	}
}

func TestSend_ChunksLongText(t *testing.T) {
	srv, msgs, _ := captureServer(t, http.StatusOK)
	c := NewClient("t", "12345", WithBaseURL(srv.URL))

	body := strings.Repeat("a", chunkSize+500)
	err := c.Send(context.Background(), OutboundMessage{
		MessagingProduct: "whatsapp",
		To:               "628111222333",
		Type:             "text",
		Text:             &Text{Body: body},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*msgs) != 2 {
		t.Fatalf("got %d requests, want 2 chunks", len(*msgs))
	}
	first, second := (*msgs)[0].Text.Body, (*msgs)[1].Text.Body
	if len([]rune(first)) != chunkSize {
		t.Errorf("got first chunk of %d runes, want %d", len([]rune(first)), chunkSize)
	}
	if first+second != body {
		t.Error("chunks do not reassemble into the original body")
	}
}

func TestSend_ErrorStatus(t *testing.T) {
	srv, _, _ := captureServer(t, http.StatusUnauthorized)
	c := NewClient("bad-token", "12345", WithBaseURL(srv.URL))

	err := c.Send(context.Background(), OutboundMessage{
		MessagingProduct: "whatsapp",
		To:               "628111222333",
		Type:             "text",
		Text:             &Text{Body: "hello"},
	})
	if err == nil {
		t.Fatal("want error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "http 401") {
		t.Errorf("got %v", err)
	}
}

func TestSendPayload_ConvertsMarkdown(t *testing.T) {
	srv, msgs, _ := captureServer(t, http.StatusOK)
	c := NewClient("t", "12345", WithBaseURL(srv.URL))

	payload := aruna.ChannelPayload{Type: aruna.PayloadText, Body: "This is **important**"}
	if err := c.SendPayload(context.Background(), "628111222333", payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*msgs) != 1 {
		t.Fatalf("got %d requests, want 1", len(*msgs))
	}
	got := (*msgs)[0].Text.Body
	if !strings.Contains(got, "*important*") {
		t.Errorf("got %q, want WhatsApp bold formatting", got)
	}
}
