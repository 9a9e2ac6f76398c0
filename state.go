package aruna

// WorkflowState is one state of the conversation turn machine.
type WorkflowState int

const (
	StateReceived WorkflowState = iota
	StateClassified
	StateMemoryRetrieved
	StateModelInvoked
	StateToolsPending
	StateToolsResolved
	StateFormatted
	StateDone
	StateFailed
)

// String returns the state name.
func (s WorkflowState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateClassified:
		return "classified"
	case StateMemoryRetrieved:
		return "memory_retrieved"
	case StateModelInvoked:
		return "model_invoked"
	case StateToolsPending:
		return "tools_pending"
	case StateToolsResolved:
		return "tools_resolved"
	case StateFormatted:
		return "formatted"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state ends the turn.
func (s WorkflowState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// ConversationState is the per-user conversation a workflow execution owns
// for the duration of one turn. The channel layer persists it between turns;
// the core only appends to it.
type ConversationState struct {
	OwnerID  string        `json:"owner_id"`
	Messages []ChatMessage `json:"messages"`
	// MemoryContext holds facts retrieved from memory this turn. Scratch
	// space: rebuilt each turn, never persisted.
	MemoryContext []MemoryRecord `json:"-"`
	Turn          int            `json:"turn"`
	Done          bool           `json:"done"`
}

// NewConversationState creates an empty conversation for one owner.
func NewConversationState(ownerID string) *ConversationState {
	return &ConversationState{OwnerID: ownerID}
}

// Append adds a message to the conversation. The message sequence is
// append-only within a turn; callers never reorder or rewrite entries.
func (c *ConversationState) Append(msg ChatMessage) {
	c.Messages = append(c.Messages, msg)
}

// History returns the most recent limit messages, oldest first.
// limit <= 0 returns the full history. The window never starts on a
// tool-role message: a tool result without its requesting assistant
// message is rejected by provider APIs.
func (c *ConversationState) History(limit int) []ChatMessage {
	if limit <= 0 || len(c.Messages) <= limit {
		return c.Messages
	}
	start := len(c.Messages) - limit
	for start < len(c.Messages) && c.Messages[start].Role == "tool" {
		start++
	}
	return c.Messages[start:]
}

// PendingToolCalls returns tool calls from the last assistant message that
// have not reached a terminal status. Used to assert the turn invariant
// before completion.
func (c *ConversationState) PendingToolCalls() []ToolCall {
	var pending []ToolCall
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Role != "assistant" {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.Status != ToolCallSucceeded && tc.Status != ToolCallFailed {
				pending = append(pending, tc)
			}
		}
		break
	}
	return pending
}
