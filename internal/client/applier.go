package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tetherdev/tether/internal/syncq"
)

// RelayApplier applies queue operations through the relay's HTTP sync
// surface. One POST per operation; the queue owns retries.
type RelayApplier struct {
	RelayURL string // e.g. "http://workstation:8600"
	Token    string
	Client   *http.Client
}

type syncPayload struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Operation   string `json:"operation"`
	Content     string `json:"content,omitempty"`
}

type syncReply struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (a *RelayApplier) Apply(ctx context.Context, op syncq.Operation) error {
	payload := syncPayload{
		Source:      op.LocalPath,
		Destination: op.RemotePath,
	}
	switch op.Kind {
	case syncq.Upsert:
		payload.Operation = "sync"
		payload.Content = base64.StdEncoding.EncodeToString(op.Payload)
	case syncq.Delete:
		payload.Operation = "delete"
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sync payload: %w", err)
	}

	url := strings.TrimSuffix(a.RelayURL, "/") + "/sync"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.Token)

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sync call: %w", err)
	}
	defer resp.Body.Close()

	var reply syncReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decode sync reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !reply.Success {
		msg := reply.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("sync %s %s: %s", payload.Operation, op.RemotePath, msg)
	}
	return nil
}

// InitialSync mirrors a whole local tree through POST /sync/initial.
func (a *RelayApplier) InitialSync(ctx context.Context, source, destination string, deleteExtras bool) error {
	body, err := json.Marshal(map[string]any{
		"source":        source,
		"destination":   destination,
		"delete_extras": deleteExtras,
	})
	if err != nil {
		return fmt.Errorf("marshal initial sync: %w", err)
	}

	url := strings.TrimSuffix(a.RelayURL, "/") + "/sync/initial"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build initial sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.Token)

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("initial sync call: %w", err)
	}
	defer resp.Body.Close()

	var reply syncReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decode initial sync reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !reply.Success {
		msg := reply.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("initial sync %s: %s", destination, msg)
	}
	return nil
}
