// Package dispatch contains the hub's orchestration core: it fans a user
// query out to the selected worker agents, pushes each answer to the
// conversation's live connection as it arrives, and records the exchange on
// the main server. Agents are an advisory committee, not a transaction: each
// agent call fails or succeeds on its own.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quorumhq/quorum/internal/registry"
	"github.com/quorumhq/quorum/internal/store"
	"github.com/quorumhq/quorum/pkg/protocol"
)

// Request describes one inbound query to route. It is immutable once built.
type Request struct {
	ChatID          uuid.UUID
	HumanText       string
	SenderID        string
	OrgID           string
	AvailableAgents []string // ordered; the canonical participant order
	History         []protocol.HistoryEntry
}

// Appender persists one transcript message. Implemented by recorder.Recorder.
type Appender interface {
	AppendMessage(ctx context.Context, chatID uuid.UUID, sender, messageType, text string) error
}

// Directory resolves agent ids to directory entries. Implemented by store.Store.
type Directory interface {
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
}

// RequestSigner signs outbound agent calls. Implemented by auth.Signer.
type RequestSigner interface {
	SignRequest(req *http.Request)
}

// Options configures a Dispatcher.
type Options struct {
	InteractTimeout time.Duration // per-agent call timeout; default 30s
}

// Dispatcher runs the Created -> HumanPersisted -> FanningOut -> Completed
// state machine for one query at a time. It is safe for concurrent use;
// dispatches for different conversations share nothing but the registry.
type Dispatcher struct {
	registry  *registry.Registry
	recorder  Appender
	directory Directory
	signer    RequestSigner
	store     store.Store
	logger    *slog.Logger
	client    *http.Client
	timeout   time.Duration
}

// New creates a Dispatcher.
func New(reg *registry.Registry, rec Appender, dir Directory, signer RequestSigner, st store.Store, logger *slog.Logger, opts Options) *Dispatcher {
	timeout := opts.InteractTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		registry:  reg,
		recorder:  rec,
		directory: dir,
		signer:    signer,
		store:     st,
		logger:    logger.With("component", "dispatcher"),
		client:    &http.Client{},
		timeout:   timeout,
	}
}

// Dispatch processes one request with the given selector output. It returns
// only after every participant task has resolved. The human message is
// persisted exactly once, before any agent work begins; a failure there is
// fatal to the dispatch. Everything after that point degrades per agent.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, selected []string) error {
	participants := intersect(req.AvailableAgents, selected)

	if err := d.recorder.AppendMessage(ctx, req.ChatID, req.SenderID, protocol.MessageTypeHuman, req.HumanText); err != nil {
		d.audit(ctx, req, "dispatch.persist_failed", "", detailJSON("error", err.Error()))
		return fmt.Errorf("persist human message: %w", err)
	}

	// Best effort: the connection may be gone, or never have existed.
	d.push(req.ChatID, protocol.AgentsFrame{Agents: participants})

	var wg sync.WaitGroup
	for _, agentID := range participants {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			d.runAgent(ctx, req, agentID)
		}(agentID)
	}
	wg.Wait()

	d.audit(ctx, req, "dispatch.completed", "", detailJSON("participants", fmt.Sprintf("%d", len(participants))))
	return nil
}

// runAgent executes one participant's call end to end. Every failure here is
// isolated to this agent.
func (d *Dispatcher) runAgent(ctx context.Context, req Request, agentID string) {
	logger := d.logger.With("chat_id", req.ChatID, "agent_id", agentID)

	agent, err := d.directory.GetAgent(ctx, agentID)
	if err != nil || agent == nil || !agent.Enabled {
		logger.Warn("agent not resolvable, skipping", "error", err)
		d.audit(ctx, req, "agent.call_failed", agentID, detailJSON("reason", "not_resolvable"))
		return
	}
	// Available-agent lists arrive from the client; the directory entry's org
	// is authoritative. An agent from another org is treated exactly like an
	// unknown one.
	if agent.OrgID != req.OrgID {
		logger.Warn("agent belongs to another org, skipping", "agent_org", agent.OrgID)
		d.audit(ctx, req, "agent.call_failed", agentID, detailJSON("reason", "org_mismatch"))
		return
	}

	response, err := d.interact(ctx, agent.BaseURL, req)
	if err != nil {
		logger.Warn("agent call failed", "error", err)
		d.audit(ctx, req, "agent.call_failed", agentID, detailJSON("reason", err.Error()))
		return
	}
	if response == "" {
		// The agent answered but had nothing to say; neither pushed nor recorded.
		logger.Debug("agent returned no content")
		return
	}

	d.push(req.ChatID, protocol.AgentResponseFrame{AgentID: agentID, Response: response})

	if err := d.recorder.AppendMessage(ctx, req.ChatID, agentID, protocol.MessageTypeAgent, response); err != nil {
		logger.Warn("failed to record agent message", "error", err)
		d.audit(ctx, req, "agent.record_failed", agentID, detailJSON("error", err.Error()))
	}
}

// interact POSTs the work payload to an agent's interaction endpoint and
// extracts the response field.
func (d *Dispatcher) interact(ctx context.Context, baseURL string, req Request) (string, error) {
	body, err := json.Marshal(protocol.WorkPayload{
		Input:       req.HumanText,
		ChatID:      req.ChatID,
		CompanyID:   req.OrgID,
		UserID:      req.SenderID,
		ChatHistory: req.History,
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/interactions/internal/interact"
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	d.signer.SignRequest(httpReq)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("interact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("interact: agent returned %d", resp.StatusCode)
	}

	var result protocol.InteractionResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return "", fmt.Errorf("decode agent response: %w", err)
	}
	return result.Response, nil
}

// push sends one frame to the conversation's live connection, if there is
// one. Send failures are swallowed; the connection's own read loop notices a
// broken peer and deregisters it.
func (d *Dispatcher) push(chatID uuid.UUID, frame any) {
	conn, ok := d.registry.Get(chatID)
	if !ok {
		return
	}
	if err := conn.Send(frame); err != nil {
		d.logger.Debug("live push failed", "chat_id", chatID, "error", err)
	}
}

func (d *Dispatcher) audit(ctx context.Context, req Request, action, agentID string, detail json.RawMessage) {
	if d.store == nil {
		return
	}
	if err := d.store.LogAuditEvent(ctx, &store.AuditEvent{
		ID:        uuid.New().String(),
		OrgID:     req.OrgID,
		Action:    action,
		UserID:    req.SenderID,
		ChatID:    req.ChatID.String(),
		AgentID:   agentID,
		Detail:    detail,
		CreatedAt: time.Now(),
	}); err != nil {
		d.logger.Warn("failed to log audit event", "action", action, "error", err)
	}
}

// intersect returns the members of available that also appear in selected,
// ordered as in available. The selector already normalizes its output, but
// the dispatcher never trusts that: participation is always
// selected-and-available.
func intersect(available, selected []string) []string {
	selectedSet := make(map[string]bool, len(selected))
	for _, id := range selected {
		selectedSet[id] = true
	}
	out := make([]string, 0, len(available))
	for _, id := range available {
		if selectedSet[id] {
			out = append(out, id)
		}
	}
	return out
}

func detailJSON(key, value string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{key: value})
	return b
}
