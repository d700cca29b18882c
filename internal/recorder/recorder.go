// Package recorder is the append-only client for the main server's
// conversation transcript store. It never retries; failures are reported to
// the dispatcher, which decides whether they are fatal.
package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quorumhq/quorum/internal/auth"
	"github.com/quorumhq/quorum/pkg/protocol"
)

// Recorder appends messages to conversation transcripts on the main server.
type Recorder struct {
	endpoint string // base URL, no trailing slash
	signer   *auth.Signer
	client   *http.Client
}

// New creates a Recorder for the given main server base URL.
func New(endpoint string, signer *auth.Signer) *Recorder {
	return &Recorder{
		endpoint: strings.TrimRight(endpoint, "/"),
		signer:   signer,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// AppendMessage appends one message to a conversation. messageType is
// protocol.MessageTypeHuman or protocol.MessageTypeAgent.
func (r *Recorder) AppendMessage(ctx context.Context, chatID uuid.UUID, sender, messageType, text string) error {
	body, err := json.Marshal(protocol.RecordedMessage{
		Sender:      sender,
		MessageType: messageType,
		Text:        text,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/messages/internal/%s", r.endpoint, chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	r.signer.SignRequest(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("append message: main server returned %d", resp.StatusCode)
	}
	return nil
}
