package whatsapp

// OutboundMessage is the request body for the WhatsApp Business Cloud API
// /messages endpoint.
type OutboundMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *Text        `json:"text,omitempty"`
	Interactive      *Interactive `json:"interactive,omitempty"`
}

// Text is the body of a plain text message.
type Text struct {
	Body string `json:"body"`
}

// Interactive is a button-style interactive message.
type Interactive struct {
	Type   string  `json:"type"` // "button"
	Header *Header `json:"header,omitempty"`
	Body   *Body   `json:"body"`
	Footer *Footer `json:"footer,omitempty"`
	Action *Action `json:"action"`
}

// Header is the optional interactive message header.
type Header struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

// Body is the interactive message body.
type Body struct {
	Text string `json:"text"`
}

// Footer is the optional interactive message footer.
type Footer struct {
	Text string `json:"text"`
}

// Action carries the reply buttons.
type Action struct {
	Buttons []Button `json:"buttons"`
}

// Button wraps one reply button.
type Button struct {
	Type  string      `json:"type"` // "reply"
	Reply ButtonReply `json:"reply"`
}

// ButtonReply is the id/title pair delivered back when the user taps.
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// --- Inbound webhook types ---

// WebhookPayload is the envelope WhatsApp posts to the webhook endpoint.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one account-level notification batch.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field change inside an entry.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value holds the messages and contact metadata of a change.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
}

// Metadata identifies the receiving phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact describes the sender.
type Contact struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

// Profile carries the sender's display name.
type Profile struct {
	Name string `json:"name"`
}

// Message is one inbound message.
type Message struct {
	From        string               `json:"from"`
	ID          string               `json:"id"`
	Timestamp   string               `json:"timestamp"`
	Type        string               `json:"type"` // "text", "interactive", ...
	Text        *Text                `json:"text,omitempty"`
	Interactive *InteractiveResponse `json:"interactive,omitempty"`
}

// InteractiveResponse is the user's reaction to an interactive message.
type InteractiveResponse struct {
	Type        string       `json:"type"` // "button_reply"
	ButtonReply *ButtonReply `json:"button_reply,omitempty"`
}
