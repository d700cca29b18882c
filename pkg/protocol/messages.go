// Package protocol defines the wire types exchanged between the quorum hub,
// its worker agents, the main server's message store, and live frontend
// connections. All payloads are JSON.
package protocol

import "github.com/google/uuid"

// Message types accepted by the main server's message store.
const (
	MessageTypeHuman = "human"
	MessageTypeAgent = "agent"
)

// AgentsFrame is pushed to the live connection once per dispatch, listing the
// agents that will participate. It is sent even when the list is empty.
type AgentsFrame struct {
	Agents []string `json:"agents"`
}

// AgentResponseFrame is pushed to the live connection once per agent that
// produced non-empty content.
type AgentResponseFrame struct {
	AgentID  string `json:"agent_id"`
	Response string `json:"response"`
}

// HistoryEntry is one prior turn of a conversation, forwarded verbatim to
// worker agents as context.
type HistoryEntry struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// WorkPayload is the tenant-scoped body POSTed to every participant agent's
// interaction endpoint. Agents all receive the same payload; nothing in it is
// agent-specific.
type WorkPayload struct {
	Input       string         `json:"input"`
	ChatID      uuid.UUID      `json:"chat_id"`
	CompanyID   string         `json:"company_id"`
	UserID      string         `json:"user_id"`
	ChatHistory []HistoryEntry `json:"chat_history"`
}

// InteractionResult is a worker agent's reply. A missing or empty Response
// means the agent had nothing to contribute.
type InteractionResult struct {
	Response string `json:"response,omitempty"`
}

// RecordedMessage is the body POSTed to the main server when appending a
// message to a conversation transcript.
type RecordedMessage struct {
	Sender      string `json:"sender"`
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
}
