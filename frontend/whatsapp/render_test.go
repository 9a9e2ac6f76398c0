package whatsapp

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/danarsa/aruna"
)

func TestRenderText(t *testing.T) {
	msg := Render(aruna.ChannelPayload{Type: aruna.PayloadText, Body: "hello"}, "628111222333")
	if msg.MessagingProduct != "whatsapp" {
		t.Errorf("got %q, want whatsapp", msg.MessagingProduct)
	}
	if msg.To != "628111222333" {
		t.Errorf("got %q, want the recipient", msg.To)
	}
	if msg.Type != "text" || msg.Text == nil || msg.Text.Body != "hello" {
		t.Errorf("got %+v, want a text message", msg)
	}
	if msg.Interactive != nil {
		t.Error("text message must not carry an interactive block")
	}
}

func TestRenderInteractive(t *testing.T) {
	payload := aruna.ChannelPayload{
		Type:   aruna.PayloadInteractive,
		Body:   "Pick a size",
		Header: "Coffee",
		Footer: "Prices include tax",
		Buttons: []aruna.Button{
			{ID: "s", Title: "Small"},
			{Title: "Large"}, // no id
		},
	}
	msg := Render(payload, "628111222333")
	if msg.Type != "interactive" || msg.Interactive == nil {
		t.Fatalf("got %+v, want an interactive message", msg)
	}
	in := msg.Interactive
	if in.Type != "button" {
		t.Errorf("got %q, want button", in.Type)
	}
	if in.Header == nil || in.Header.Type != "text" || in.Header.Text != "Coffee" {
		t.Errorf("got header %+v", in.Header)
	}
	if in.Footer == nil || in.Footer.Text != "Prices include tax" {
		t.Errorf("got footer %+v", in.Footer)
	}
	if len(in.Action.Buttons) != 2 {
		t.Fatalf("got %d buttons, want 2", len(in.Action.Buttons))
	}
	if in.Action.Buttons[0].Type != "reply" || in.Action.Buttons[0].Reply.ID != "s" {
		t.Errorf("got %+v", in.Action.Buttons[0])
	}
	if in.Action.Buttons[1].Reply.ID != "option_2" {
		t.Errorf("got id %q, want positional default option_2", in.Action.Buttons[1].Reply.ID)
	}
}

func TestRenderInteractive_OmitsEmptyHeaderFooter(t *testing.T) {
	payload := aruna.ChannelPayload{
		Type:    aruna.PayloadInteractive,
		Body:    "Continue?",
		Buttons: []aruna.Button{{ID: "y", Title: "Yes"}},
	}
	msg := Render(payload, "628111222333")
	if msg.Interactive.Header != nil {
		t.Error("empty header must be omitted")
	}
	if msg.Interactive.Footer != nil {
		t.Error("empty footer must be omitted")
	}
}

func TestValidateTruncatesFields(t *testing.T) {
	long := strings.Repeat("x", 2000)
	msg := Validate(OutboundMessage{
		Type: "interactive",
		Interactive: &Interactive{
			Type:   "button",
			Header: &Header{Type: "text", Text: long},
			Body:   &Body{Text: long},
			Footer: &Footer{Text: long},
			Action: &Action{Buttons: []Button{
				{Type: "reply", Reply: ButtonReply{ID: "a", Title: long}},
			}},
		},
	})
	in := msg.Interactive
	if got := len([]rune(in.Body.Text)); got != maxBodyLen {
		t.Errorf("got body length %d, want %d", got, maxBodyLen)
	}
	if got := len([]rune(in.Header.Text)); got != maxHeaderLen {
		t.Errorf("got header length %d, want %d", got, maxHeaderLen)
	}
	if got := len([]rune(in.Footer.Text)); got != maxFooterLen {
		t.Errorf("got footer length %d, want %d", got, maxFooterLen)
	}
	if got := len([]rune(in.Action.Buttons[0].Reply.Title)); got != maxButtonTitleLen {
		t.Errorf("got title length %d, want %d", got, maxButtonTitleLen)
	}
	if !strings.HasSuffix(in.Body.Text, "...") {
		t.Errorf("got %q, want truncation marker", in.Body.Text[len(in.Body.Text)-10:])
	}
}

func TestValidateDropsExtraButtons(t *testing.T) {
	buttons := make([]Button, 5)
	for i := range buttons {
		buttons[i] = Button{Type: "reply", Reply: ButtonReply{ID: "b", Title: "t"}}
	}
	msg := Validate(OutboundMessage{
		Type: "interactive",
		Interactive: &Interactive{
			Type:   "button",
			Body:   &Body{Text: "pick"},
			Action: &Action{Buttons: buttons},
		},
	})
	if got := len(msg.Interactive.Action.Buttons); got != maxButtons {
		t.Errorf("got %d buttons, want %d", got, maxButtons)
	}
}

func TestValidateTextBody(t *testing.T) {
	long := strings.Repeat("y", maxTextBodyLen+100)
	msg := Validate(OutboundMessage{Type: "text", Text: &Text{Body: long}})
	if got := len([]rune(msg.Text.Body)); got != maxTextBodyLen {
		t.Errorf("got %d, want %d", got, maxTextBodyLen)
	}
	short := Validate(OutboundMessage{Type: "text", Text: &Text{Body: "hi"}})
	if short.Text.Body != "hi" {
		t.Errorf("got %q, want unchanged", short.Text.Body)
	}
}

const webhookFixture = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "123",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "628000000000", "phone_number_id": "999"},
        "contacts": [{"wa_id": "628111222333", "profile": {"name": "Dana"}}],
        "messages": [
          {"from": "628111222333", "id": "wamid.A1", "timestamp": "1717000000", "type": "text",
           "text": {"body": "halo, ada promo?"}},
          {"from": "628111222333", "id": "wamid.A2", "timestamp": "1717000060", "type": "interactive",
           "interactive": {"type": "button_reply", "button_reply": {"id": "opt_1", "title": "Ya"}}},
          {"from": "628111222333", "id": "wamid.A3", "timestamp": "1717000120", "type": "image"}
        ]
      }
    }]
  }]
}`

func TestParseIncoming(t *testing.T) {
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(webhookFixture), &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	turns := ParseIncoming(payload)
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2 (media skipped)", len(turns))
	}

	text := turns[0]
	if text.OwnerID != "628111222333" {
		t.Errorf("got owner %q", text.OwnerID)
	}
	if text.Text != "halo, ada promo?" {
		t.Errorf("got %q", text.Text)
	}
	if text.ChannelMetadata["message_id"] != "wamid.A1" {
		t.Errorf("got metadata %v", text.ChannelMetadata)
	}
	if text.ChannelMetadata["profile_name"] != "Dana" {
		t.Errorf("got metadata %v, want the contact name attached", text.ChannelMetadata)
	}

	button := turns[1]
	if button.Text != "Ya" {
		t.Errorf("got %q, want the button title as turn text", button.Text)
	}
	if button.ChannelMetadata["button_id"] != "opt_1" {
		t.Errorf("got metadata %v, want button_id", button.ChannelMetadata)
	}
}

func TestParseIncoming_IgnoresOtherFields(t *testing.T) {
	payload := WebhookPayload{
		Entry: []Entry{{Changes: []Change{{Field: "statuses"}}}},
	}
	if turns := ParseIncoming(payload); len(turns) != 0 {
		t.Errorf("got %d turns, want 0 for non-message changes", len(turns))
	}
}

func TestTruncateRuneSafe(t *testing.T) {
	got := truncate("héllo wörld, a long sentence", 10)
	if got != "héllo w..." {
		t.Errorf("got %q, want %q", got, "héllo w...")
	}
	if truncate("short", 10) != "short" {
		t.Error("short strings must pass through")
	}
}
