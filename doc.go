// Package aruna is the core of a conversational-agent backend for WhatsApp:
// it receives inbound turns from a channel layer, maintains per-user
// conversation state, decides between answering directly and invoking tools,
// consults and updates long-term memory, and produces a channel-formatted
// reply.
//
// The package is built around four collaborators:
//
//   - Provider: one LLM vendor normalized into a single contract
//     (provider/openaicompat, provider/anthropic).
//   - Router: provider selection with retry, backoff, and fallback chains.
//   - Registry: schema-validated tools the model may call mid-turn.
//   - Manager: long-term memory scoped to one owner, backed by a swappable
//     MemoryStore (store/sqlite, store/postgres, store/redis).
//
// Workflow ties them together as an explicit bounded state machine driving
// one turn from Received to Done, degrading gracefully when providers,
// tools, or memory fail. The external channel never sees a raw error: the
// terminal Failed state yields a deterministic fallback reply.
package aruna
