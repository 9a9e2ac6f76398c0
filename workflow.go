package aruna

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// MemoryPolicy controls when a turn retrieves long-term memory context.
// The trigger is a configuration choice, not a hard rule.
type MemoryPolicy string

const (
	// MemoryAlways retrieves memory context on every turn.
	MemoryAlways MemoryPolicy = "always"
	// MemoryHeuristic retrieves only when the turn text suggests the user
	// refers to past conversations or stored facts.
	MemoryHeuristic MemoryPolicy = "heuristic"
	// MemoryNever disables retrieval; memory tools remain available.
	MemoryNever MemoryPolicy = "never"
)

// memoryCues are substrings the heuristic policy looks for.
var memoryCues = []string{
	"remember", "remind", "last time", "last order", "previous",
	"earlier", "again", "my name", "i told you", "you said",
}

// maxParallelDispatch caps concurrent tool call goroutines to avoid
// overwhelming external services with unbounded parallelism.
const maxParallelDispatch = 10

// defaultFallbackReply is the deterministic reply the Failed state yields.
// The external channel never sees a raw internal error.
const defaultFallbackReply = "Sorry, I ran into a problem handling that. Please try again in a moment."

// TransitionHook observes state machine transitions, mainly for tests and
// metrics.
type TransitionHook func(from, to WorkflowState)

// Workflow drives one conversation turn through an explicit bounded state
// machine:
//
//	Received → Classified → (MemoryRetrieved)? → ModelInvoked
//	         → (ToolsPending → ToolsResolved)* → Formatted → Done
//
// with a terminal Failed state. Tool-calling rounds are hard-capped; at the
// cap the model is forced to synthesize a final answer without tools.
// Provider failures are delegated to the Router's retry/fallback logic;
// memory failures degrade the turn instead of aborting it. Only
// WorkflowError reaches Failed, which always yields the deterministic
// fallback reply.
//
// One Workflow value serves many concurrent turns: all per-turn state lives
// in the ConversationState owned by the call.
type Workflow struct {
	router *Router
	chain  []ProviderConfig
	tools  ToolExecutor
	memory *Manager
	guard  *InjectionGuard

	policy        MemoryPolicy
	caps          ChannelCapabilities
	systemPrompt  string
	fallbackReply string
	maxToolRounds int
	maxToolFails  int
	historyWindow int
	memoryLimit   int
	persistWait   *sync.WaitGroup // test hook; nil in production
	hook          TransitionHook
	logger        *slog.Logger
	tracer        Tracer
	now           func() time.Time
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithMemory attaches a memory manager. Without one, turns run memoryless.
func WithMemory(m *Manager) WorkflowOption {
	return func(w *Workflow) { w.memory = m }
}

// WithMemoryPolicy sets the retrieval trigger policy (default: always).
func WithMemoryPolicy(p MemoryPolicy) WorkflowOption {
	return func(w *Workflow) { w.policy = p }
}

// WithTools attaches the tool registry offered to the model.
func WithTools(r ToolExecutor) WorkflowOption {
	return func(w *Workflow) { w.tools = r }
}

// WithGuard screens inbound turns for prompt injection before the model
// sees them. Blocked turns get the guard's refusal as a plain-text reply.
func WithGuard(g *InjectionGuard) WorkflowOption {
	return func(w *Workflow) { w.guard = g }
}

// WithSystemPrompt sets the persona prompt prepended to every turn.
func WithSystemPrompt(s string) WorkflowOption {
	return func(w *Workflow) { w.systemPrompt = s }
}

// WithChannelCapabilities sets the channel limits the formatter applies
// (default: WhatsApp).
func WithChannelCapabilities(c ChannelCapabilities) WorkflowOption {
	return func(w *Workflow) { w.caps = c }
}

// WithFallbackReply overrides the deterministic reply produced by Failed.
func WithFallbackReply(s string) WorkflowOption {
	return func(w *Workflow) { w.fallbackReply = s }
}

// WithMaxToolRounds bounds the model-call/tool-call loop (default: 5).
func WithMaxToolRounds(n int) WorkflowOption {
	return func(w *Workflow) { w.maxToolRounds = n }
}

// WithMaxToolFailures sets how many failed tool calls a turn tolerates
// before transitioning to Failed (default: 3).
func WithMaxToolFailures(n int) WorkflowOption {
	return func(w *Workflow) { w.maxToolFails = n }
}

// WithHistoryWindow sets how many trailing conversation messages are sent
// to the model (default: 10).
func WithHistoryWindow(n int) WorkflowOption {
	return func(w *Workflow) { w.historyWindow = n }
}

// WithMemoryLimit sets how many memory records a retrieval injects
// (default: 5).
func WithMemoryLimit(n int) WorkflowOption {
	return func(w *Workflow) { w.memoryLimit = n }
}

// WithTransitionHook observes every state transition.
func WithTransitionHook(h TransitionHook) WorkflowOption {
	return func(w *Workflow) { w.hook = h }
}

// WithWorkflowLogger sets the structured logger for turn lifecycle events.
func WithWorkflowLogger(l *slog.Logger) WorkflowOption {
	return func(w *Workflow) { w.logger = l }
}

// WithWorkflowTracer enables span creation around turn stages.
func WithWorkflowTracer(t Tracer) WorkflowOption {
	return func(w *Workflow) { w.tracer = t }
}

// withPersistWait makes Run wait-trackable for tests: the async memory
// persist registers on the group before Run returns.
func withPersistWait(wg *sync.WaitGroup) WorkflowOption {
	return func(w *Workflow) { w.persistWait = wg }
}

// NewWorkflow creates a Workflow over router and its fallback chain.
func NewWorkflow(router *Router, chain []ProviderConfig, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		router:        router,
		chain:         chain,
		policy:        MemoryAlways,
		caps:          WhatsAppCapabilities(),
		fallbackReply: defaultFallbackReply,
		maxToolRounds: 5,
		maxToolFails:  3,
		historyWindow: 10,
		memoryLimit:   5,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = nopLogger
	}
	return w
}

// Run executes one turn: the inbound message is resolved into exactly one
// outbound reply. On a WorkflowError the returned payload is the
// deterministic fallback reply and the error describes the failure for
// logging; the payload is always deliverable. Cancellation returns ctx's
// error with a zero payload.
func (w *Workflow) Run(ctx context.Context, turn IncomingTurn, state *ConversationState) (ChannelPayload, error) {
	ctx, span := w.span(ctx, "workflow.turn",
		StringAttr("owner", turn.OwnerID),
		IntAttr("turn", state.Turn+1))
	defer endSpan(span)

	// Tool handlers resolve the acting owner from the context.
	ctx = WithOwner(ctx, turn.OwnerID)

	cur := StateReceived
	state.Turn++
	state.Done = false
	state.MemoryContext = nil
	w.logger.Info("turn started", "owner", turn.OwnerID, "turn", state.Turn)

	// Received → Classified.
	if w.guard != nil && w.guard.Blocked(turn.Text) {
		// Deterministic refusal; the model never sees the text.
		state.Append(UserMessage(turn.Text))
		payload := ChannelPayload{Type: PayloadText, Body: w.guard.Refusal()}
		state.Append(AssistantMessage(payload.Body))
		cur = w.transition(cur, StateClassified)
		cur = w.transition(cur, StateFormatted)
		w.transition(cur, StateDone)
		state.Done = true
		return payload, nil
	}
	needsMemory := w.classify(turn.Text)
	cur = w.transition(cur, StateClassified)

	// Classified → MemoryRetrieved (optional, degrades on failure).
	if needsMemory && w.memory != nil {
		records, err := w.memory.Search(ctx, turn.OwnerID, turn.Text, w.memoryLimit)
		if err != nil {
			w.logger.Warn("memory search failed, continuing without context",
				"owner", turn.OwnerID, "error", err)
		} else if len(records) > 0 {
			state.MemoryContext = records
			cur = w.transition(cur, StateMemoryRetrieved)
		}
	}
	if err := ctx.Err(); err != nil {
		return ChannelPayload{}, err
	}

	state.Append(UserMessage(turn.Text))

	// Model/tool loop.
	var (
		resp      ChatResponse
		toolFails int
	)
	req := w.buildRequest(turn, state)
	for round := 0; ; round++ {
		var err error
		resp, err = w.router.Invoke(ctx, req, w.chain)
		cur = w.transition(cur, StateModelInvoked)
		if err != nil {
			if ctx.Err() != nil {
				return ChannelPayload{}, ctx.Err()
			}
			return w.fail(state, cur, &WorkflowError{Kind: WorkflowProvidersExhausted, Err: err})
		}

		if resp.FinishReason != FinishToolCall || len(resp.ToolCalls) == 0 {
			// stop (or length: successful but truncated) means final answer.
			break
		}

		if round >= w.maxToolRounds {
			// Round cap reached: force synthesis without tools. The model
			// must answer from what it has; further tool requests are moot.
			w.logger.Warn("tool round cap reached, forcing synthesis",
				"owner", turn.OwnerID, "rounds", round)
			req.Messages = append(req.Messages, UserMessage(
				"You have used all available tool calls. Answer the user with what you found."))
			req.Tools = nil
			synth, err := w.router.Invoke(ctx, req, w.chain)
			cur = w.transition(cur, StateModelInvoked)
			if err != nil {
				if ctx.Err() != nil {
					return ChannelPayload{}, ctx.Err()
				}
				return w.fail(state, cur, &WorkflowError{Kind: WorkflowToolLoopExceeded, Err: err})
			}
			resp = synth
			break
		}

		// ModelInvoked → ToolsPending: dispatch every requested call.
		for i := range resp.ToolCalls {
			resp.ToolCalls[i].Status = ToolCallPending
		}
		cur = w.transition(cur, StateToolsPending)

		results := w.dispatchParallel(ctx, resp.ToolCalls)
		for i := range resp.ToolCalls {
			resp.ToolCalls[i].Result = &results[i]
			if results[i].Error != "" {
				resp.ToolCalls[i].Status = ToolCallFailed
				toolFails++
			} else {
				resp.ToolCalls[i].Status = ToolCallSucceeded
			}
		}
		state.Append(ChatMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		if err := ctx.Err(); err != nil {
			// Cancelled mid-dispatch. Every call above already reached a
			// terminal status, so no pending ToolCall can be persisted;
			// the results themselves are discarded with the turn.
			return ChannelPayload{}, err
		}

		// ToolsPending → ToolsResolved: results become tool-role messages
		// and the loop lets the model consume them. Appended to the live
		// request too, so assistant/tool pairs are never split by the
		// history window mid-turn.
		req.Messages = append(req.Messages, ChatMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, tc := range resp.ToolCalls {
			content := tc.Result.Content
			if tc.Result.Error != "" {
				content = "error: " + tc.Result.Error
			}
			state.Append(ToolResultMessage(tc.ID, content))
			req.Messages = append(req.Messages, ToolResultMessage(tc.ID, content))
		}
		cur = w.transition(cur, StateToolsResolved)

		if toolFails > w.maxToolFails {
			return w.fail(state, cur, &WorkflowError{
				Kind: WorkflowToolLoopExceeded,
				Err:  fmt.Errorf("%d tool calls failed, threshold %d", toolFails, w.maxToolFails),
			})
		}
	}

	// ModelInvoked → Formatted.
	state.Append(AssistantMessage(resp.Content))
	payload := Format(ParseAssistantReply(resp.Content), w.caps)
	cur = w.transition(cur, StateFormatted)

	// Best-effort memory persistence; never blocks reply delivery.
	w.persistAsync(ctx, turn)

	w.transition(cur, StateDone)
	state.Done = true
	w.logger.Info("turn completed", "owner", turn.OwnerID, "turn", state.Turn,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return payload, nil
}

// fail transitions to the terminal Failed state and returns the
// deterministic fallback payload together with the workflow error.
func (w *Workflow) fail(state *ConversationState, cur WorkflowState, werr *WorkflowError) (ChannelPayload, error) {
	w.transition(cur, StateFailed)
	state.Done = true
	w.logger.Error("turn failed", "owner", state.OwnerID, "kind", string(werr.Kind), "error", werr.Err)
	payload := ChannelPayload{Type: PayloadText, Body: w.fallbackReply}
	state.Append(AssistantMessage(payload.Body))
	return payload, werr
}

// classify decides whether this turn should retrieve memory context.
func (w *Workflow) classify(text string) bool {
	switch w.policy {
	case MemoryNever:
		return false
	case MemoryHeuristic:
		lower := strings.ToLower(text)
		for _, cue := range memoryCues {
			if strings.Contains(lower, cue) {
				return true
			}
		}
		return false
	default: // MemoryAlways
		return true
	}
}

// buildRequest assembles the provider request: system prompt with injected
// memory facts and user details, the trailing history window, and the tool
// schemas.
func (w *Workflow) buildRequest(turn IncomingTurn, state *ConversationState) ChatRequest {
	var sys strings.Builder
	if w.systemPrompt != "" {
		sys.WriteString(w.systemPrompt)
		sys.WriteString("\n\n")
	}
	if len(turn.ChannelMetadata) > 0 {
		if details, err := json.Marshal(turn.ChannelMetadata); err == nil {
			fmt.Fprintf(&sys, "User details: %s\n\n", details)
		}
	}
	fmt.Fprintf(&sys, "Current date and time: %s\n\n", w.now().UTC().Format(time.RFC3339))
	if len(state.MemoryContext) > 0 {
		sys.WriteString("Previous relevant information:\n")
		for _, rec := range state.MemoryContext {
			sys.WriteString(rec.Content)
			sys.WriteString("\n")
		}
		sys.WriteString("\n")
	}

	messages := []ChatMessage{SystemMessage(strings.TrimSpace(sys.String()))}
	messages = append(messages, state.History(w.historyWindow)...)

	req := ChatRequest{Messages: messages}
	if w.tools != nil {
		req.Tools = w.tools.Definitions()
	}
	return req
}

// persistAsync stores the user's turn as a memory fact in the background.
// Detached from the turn's context so a delivered reply is never blocked
// or cancelled retroactively; failures are logged and dropped.
func (w *Workflow) persistAsync(ctx context.Context, turn IncomingTurn) {
	if w.memory == nil || !worthRemembering(turn.Text) {
		return
	}
	if w.persistWait != nil {
		w.persistWait.Add(1)
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		if w.persistWait != nil {
			defer w.persistWait.Done()
		}
		pctx, cancel := context.WithTimeout(bg, 10*time.Second)
		defer cancel()
		meta := map[string]string{
			"source":    "whatsapp",
			"timestamp": w.now().UTC().Format(time.RFC3339),
		}
		if _, err := w.memory.Add(pctx, turn.OwnerID, turn.Text, meta); err != nil {
			w.logger.Warn("memory persist failed", "owner", turn.OwnerID, "error", err)
		}
	}()
}

// worthRemembering filters turns with no durable content.
func worthRemembering(text string) bool {
	return len(strings.TrimSpace(text)) >= 8
}

// transition records a state change and returns the new state.
func (w *Workflow) transition(from, to WorkflowState) WorkflowState {
	w.logger.Debug("workflow transition", "from", from.String(), "to", to.String())
	if w.hook != nil {
		w.hook(from, to)
	}
	return to
}

func (w *Workflow) span(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span) {
	if w.tracer == nil {
		return ctx, nil
	}
	return w.tracer.Start(ctx, name, attrs...)
}

// --- parallel tool dispatch ---

// dispatchParallel executes all tool calls concurrently through the
// registry and returns results in input order. Single calls run inline.
// Multiple calls use a fixed worker pool of min(len, maxParallelDispatch)
// goroutines pulling from a shared work channel. One call's failure never
// aborts its siblings; each outcome is recorded independently.
//
// Context-aware: if ctx is cancelled while calls are in flight, incomplete
// calls get context-error results instead of blocking. In-flight handlers
// may still complete, but their results are discarded with the turn.
func (w *Workflow) dispatchParallel(ctx context.Context, calls []ToolCall) []ToolResult {
	execute := func(ctx context.Context, tc ToolCall) ToolResult {
		if w.tools == nil {
			return ToolResult{Error: "no tools registered"}
		}
		res, err := w.tools.Execute(ctx, tc.Name, tc.Args)
		if err != nil {
			return ToolResult{Error: err.Error()}
		}
		return res
	}

	if len(calls) == 1 {
		return []ToolResult{execute(ctx, calls[0])}
	}

	type indexed struct {
		idx int
		res ToolResult
	}
	resultCh := make(chan indexed, len(calls))

	type workItem struct {
		idx int
		tc  ToolCall
	}
	workCh := make(chan workItem, len(calls))
	for i, tc := range calls {
		workCh <- workItem{idx: i, tc: tc}
	}
	close(workCh)

	numWorkers := min(len(calls), maxParallelDispatch)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for item := range workCh {
				if ctx.Err() != nil {
					resultCh <- indexed{item.idx, ToolResult{Error: ctx.Err().Error()}}
					continue
				}
				resultCh <- indexed{item.idx, execute(ctx, item.tc)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]ToolResult, len(calls))
	seen := make([]bool, len(calls))
collect:
	for received := 0; received < len(calls); received++ {
		select {
		case r, ok := <-resultCh:
			if !ok {
				break collect
			}
			results[r.idx] = r.res
			seen[r.idx] = true
		case <-ctx.Done():
			for i := range results {
				if !seen[i] {
					results[i] = ToolResult{Error: ctx.Err().Error()}
				}
			}
			return results
		}
	}
	for i := range results {
		if !seen[i] {
			results[i] = ToolResult{Error: "result not received"}
		}
	}
	return results
}
