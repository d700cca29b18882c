package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quorumhq/quorum/internal/selector"
	"github.com/quorumhq/quorum/internal/store"
)

// Engine is the fire-and-forget boundary between the API layer and the
// dispatch pipeline. Schedule returns immediately; selection and dispatch run
// on a background goroutine per request. The engine tracks in-flight work so
// shutdown can drain it.
type Engine struct {
	selector   *selector.Selector
	dispatcher *Dispatcher
	directory  Directory
	auditor    store.Store
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewEngine creates an Engine.
func NewEngine(sel *selector.Selector, d *Dispatcher, dir Directory, auditor store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		selector:   sel,
		dispatcher: d,
		directory:  dir,
		auditor:    auditor,
		logger:     logger.With("component", "engine"),
	}
}

// Schedule queues one request for processing and returns immediately. The
// caller gets no result: outcomes surface through the live connection, the
// recorded transcript, and the audit log.
func (e *Engine) Schedule(req Request) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.process(context.Background(), req)
	}()
}

// process runs one request end to end. A selection failure aborts the whole
// dispatch before anything is persisted.
func (e *Engine) process(ctx context.Context, req Request) {
	logger := e.logger.With("chat_id", req.ChatID)

	candidates := e.describe(ctx, req.AvailableAgents)
	selected, err := e.selector.Select(ctx, req.HumanText, candidates)
	if err != nil {
		logger.Error("agent selection failed, dropping request", "error", err)
		e.auditFailure(ctx, req, "dispatch.selection_failed", err)
		return
	}

	if err := e.dispatcher.Dispatch(ctx, req, selected); err != nil {
		logger.Error("dispatch failed", "error", err)
	}
}

// describe builds the selection roster from the agent directory. An agent the
// directory does not know is still a candidate; the oracle just sees it
// without a description or tags.
func (e *Engine) describe(ctx context.Context, available []string) []selector.Candidate {
	candidates := make([]selector.Candidate, 0, len(available))
	for _, id := range available {
		c := selector.Candidate{ID: id, Name: id}
		if agent, err := e.directory.GetAgent(ctx, id); err == nil && agent != nil {
			c.Name = agent.Name
			c.Description = agent.Description
			// Tags is stored as a JSON list; a malformed value just means no tags.
			if agent.Tags != "" {
				_ = json.Unmarshal([]byte(agent.Tags), &c.Tags)
			}
		}
		candidates = append(candidates, c)
	}
	return candidates
}

// Drain blocks until all in-flight dispatches finish or the timeout elapses.
// It reports whether the engine drained cleanly.
func (e *Engine) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		e.logger.Warn("shutdown drain timed out with dispatches still in flight")
		return false
	}
}

func (e *Engine) auditFailure(ctx context.Context, req Request, action string, cause error) {
	if e.auditor == nil {
		return
	}
	detail, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := e.auditor.LogAuditEvent(ctx, &store.AuditEvent{
		ID:        uuid.New().String(),
		OrgID:     req.OrgID,
		Action:    action,
		UserID:    req.SenderID,
		ChatID:    req.ChatID.String(),
		Detail:    detail,
		CreatedAt: time.Now(),
	}); err != nil {
		e.logger.Warn("failed to log audit event", "action", action, "error", err)
	}
}
