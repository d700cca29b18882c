// Package store is the hub's local persistence layer: the agent directory
// (which agents exist, who owns them, where they are reached) and the audit
// trail of dispatch activity. Conversation transcripts live on the main
// server, not here.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the persistence interface for the hub.
type Store interface {
	// Agent directory
	UpsertAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context, orgID string) ([]Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	// Audit
	LogAuditEvent(ctx context.Context, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, orgID string, limit, offset int) ([]AuditEvent, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Agent is a directory entry for a worker agent service.
type Agent struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	BaseURL     string    `json:"base_url"`
	Tags        string    `json:"tags"` // JSON-encoded list of keywords
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditEvent is a log entry for audit purposes.
type AuditEvent struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"org_id"`
	Action    string          `json:"action"`
	UserID    string          `json:"user_id,omitempty"`
	ChatID    string          `json:"chat_id,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
