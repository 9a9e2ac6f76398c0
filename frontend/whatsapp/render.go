package whatsapp

import (
	"strconv"

	"github.com/danarsa/aruna"
)

// WhatsApp Business API field limits.
const (
	maxTextBodyLen    = 4096
	maxBodyLen        = 1024
	maxHeaderLen      = 60
	maxFooterLen      = 60
	maxButtonTitleLen = 20
	maxButtons        = 3
)

// Render converts a channel payload into an API message addressed to `to`.
// The result is already validated against the field limits.
func Render(payload aruna.ChannelPayload, to string) OutboundMessage {
	switch payload.Type {
	case aruna.PayloadInteractive:
		return Validate(OutboundMessage{
			MessagingProduct: "whatsapp",
			To:               to,
			Type:             "interactive",
			Interactive:      renderInteractive(payload),
		})
	default:
		return Validate(OutboundMessage{
			MessagingProduct: "whatsapp",
			To:               to,
			Type:             "text",
			Text:             &Text{Body: payload.Body},
		})
	}
}

func renderInteractive(payload aruna.ChannelPayload) *Interactive {
	in := &Interactive{
		Type: "button",
		Body: &Body{Text: payload.Body},
	}
	if payload.Header != "" {
		in.Header = &Header{Type: "text", Text: payload.Header}
	}
	if payload.Footer != "" {
		in.Footer = &Footer{Text: payload.Footer}
	}
	buttons := make([]Button, 0, len(payload.Buttons))
	for i, b := range payload.Buttons {
		id := b.ID
		if id == "" {
			id = "option_" + strconv.Itoa(i+1)
		}
		buttons = append(buttons, Button{
			Type:  "reply",
			Reply: ButtonReply{ID: id, Title: b.Title},
		})
	}
	in.Action = &Action{Buttons: buttons}
	return in
}

// Validate enforces the WhatsApp API field limits, truncating over-long
// fields with a trailing ellipsis and dropping buttons beyond the cap.
func Validate(msg OutboundMessage) OutboundMessage {
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			msg.Text.Body = truncate(msg.Text.Body, maxTextBodyLen)
		}
	case "interactive":
		if msg.Interactive == nil {
			break
		}
		in := msg.Interactive
		if in.Body != nil {
			in.Body.Text = truncate(in.Body.Text, maxBodyLen)
		}
		if in.Header != nil {
			in.Header.Text = truncate(in.Header.Text, maxHeaderLen)
		}
		if in.Footer != nil {
			in.Footer.Text = truncate(in.Footer.Text, maxFooterLen)
		}
		if in.Action != nil {
			if len(in.Action.Buttons) > maxButtons {
				in.Action.Buttons = in.Action.Buttons[:maxButtons]
			}
			for i := range in.Action.Buttons {
				in.Action.Buttons[i].Reply.Title = truncate(in.Action.Buttons[i].Reply.Title, maxButtonTitleLen)
			}
		}
	}
	return msg
}

// ParseIncoming flattens a webhook payload into one turn per text or
// button-reply message. Other message types (media, reactions) are skipped.
func ParseIncoming(payload WebhookPayload) []aruna.IncomingTurn {
	var turns []aruna.IncomingTurn
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				text := ""
				switch {
				case msg.Type == "text" && msg.Text != nil:
					text = msg.Text.Body
				case msg.Type == "interactive" && msg.Interactive != nil && msg.Interactive.ButtonReply != nil:
					text = msg.Interactive.ButtonReply.Title
				default:
					continue
				}
				turn := aruna.IncomingTurn{
					OwnerID: msg.From,
					Text:    text,
					ChannelMetadata: map[string]string{
						"message_id": msg.ID,
						"timestamp":  msg.Timestamp,
					},
				}
				if name := names[msg.From]; name != "" {
					turn.ChannelMetadata["profile_name"] = name
				}
				if msg.Type == "interactive" {
					turn.ChannelMetadata["button_id"] = msg.Interactive.ButtonReply.ID
				}
				turns = append(turns, turn)
			}
		}
	}
	return turns
}

// truncate cuts s to at most limit runes, replacing the tail with "..."
// when content is dropped.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
