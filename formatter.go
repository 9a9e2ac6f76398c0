package aruna

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChannelCapabilities describes the documented limits of the external
// channel. The Reply Formatter truncates and degrades against these.
type ChannelCapabilities struct {
	Interactive       bool
	MaxBodyLen        int // plain text body
	MaxInteractiveLen int // interactive message body
	MaxHeaderLen      int
	MaxFooterLen      int
	MaxButtons        int
	MaxButtonTitleLen int
}

// WhatsAppCapabilities returns the limits documented by the WhatsApp
// Business API: 4096-char text body, 1024-char interactive body, 60-char
// header/footer, up to 3 reply buttons of 20 chars each.
func WhatsAppCapabilities() ChannelCapabilities {
	return ChannelCapabilities{
		Interactive:       true,
		MaxBodyLen:        4096,
		MaxInteractiveLen: 1024,
		MaxHeaderLen:      60,
		MaxFooterLen:      60,
		MaxButtons:        3,
		MaxButtonTitleLen: 20,
	}
}

// AssistantReply is the workflow's final structured output before channel
// formatting. Models may answer with plain text or with a JSON object
// carrying interactive elements; ParseAssistantReply normalizes both.
type AssistantReply struct {
	Text    string   `json:"text"`
	Header  string   `json:"header,omitempty"`
	Footer  string   `json:"footer,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`
}

// structuredReply is the JSON shape the system prompt asks the model to
// emit when it wants interactive elements.
type structuredReply struct {
	MessageType string   `json:"message_type"`
	Text        string   `json:"text"`
	Body        string   `json:"body"`
	Header      string   `json:"header"`
	Footer      string   `json:"footer"`
	Buttons     []Button `json:"buttons"`
}

// ParseAssistantReply interprets the model's final content. A JSON object
// with a message_type field is treated as a structured reply; anything
// else is plain text.
func ParseAssistantReply(content string) AssistantReply {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return AssistantReply{Text: content}
	}
	var sr structuredReply
	if err := json.Unmarshal([]byte(trimmed), &sr); err != nil || sr.MessageType == "" {
		return AssistantReply{Text: content}
	}
	text := sr.Text
	if text == "" {
		text = sr.Body
	}
	return AssistantReply{
		Text:    text,
		Header:  sr.Header,
		Footer:  sr.Footer,
		Buttons: sr.Buttons,
	}
}

// Format converts the workflow's final output into the channel's message
// shape. Pure function: same inputs always produce the same output.
//
// Interactive element labels are truncated to the channel's documented
// limits. When the reply carries more interactive options than the channel
// supports, or the channel has no interactive capability, Format falls
// back to a plain-text rendering with numbered options.
func Format(reply AssistantReply, caps ChannelCapabilities) ChannelPayload {
	if len(reply.Buttons) == 0 {
		return ChannelPayload{
			Type: PayloadText,
			Body: truncate(reply.Text, caps.MaxBodyLen),
		}
	}

	if !caps.Interactive || len(reply.Buttons) > caps.MaxButtons {
		return ChannelPayload{
			Type: PayloadText,
			Body: truncate(renderPlainOptions(reply), caps.MaxBodyLen),
		}
	}

	buttons := make([]Button, len(reply.Buttons))
	for i, b := range reply.Buttons {
		id := b.ID
		if id == "" {
			id = fmt.Sprintf("option_%d", i+1)
		}
		buttons[i] = Button{
			ID:    id,
			Title: truncate(b.Title, caps.MaxButtonTitleLen),
		}
	}

	return ChannelPayload{
		Type:    PayloadInteractive,
		Body:    truncate(reply.Text, caps.MaxInteractiveLen),
		Header:  truncate(reply.Header, caps.MaxHeaderLen),
		Footer:  truncate(reply.Footer, caps.MaxFooterLen),
		Buttons: buttons,
	}
}

// renderPlainOptions renders an interactive reply as numbered plain text.
func renderPlainOptions(reply AssistantReply) string {
	var b strings.Builder
	if reply.Header != "" {
		b.WriteString(reply.Header)
		b.WriteString("\n")
	}
	b.WriteString(reply.Text)
	for i, btn := range reply.Buttons {
		fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Title)
	}
	if reply.Footer != "" {
		b.WriteString("\n")
		b.WriteString(reply.Footer)
	}
	return b.String()
}

// truncate shortens s to at most limit runes, replacing the tail with "..."
// when trimming. limit <= 0 means no limit.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}
