package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// WorkstationState describes the remote compute instance.
type WorkstationState struct {
	ID     string `json:"id"`
	Status string `json:"status"` // "running", "stopped", "starting", ...
	Addr   string `json:"addr,omitempty"`
}

// Lifecycle is the workstation lifecycle provider boundary. The provider
// itself is an external API; this core only starts, stops, and describes.
type Lifecycle interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Describe(ctx context.Context, id string) (WorkstationState, error)
}

// HTTPLifecycle talks to a workstation lifecycle API over HTTP.
type HTTPLifecycle struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (l *HTTPLifecycle) Start(ctx context.Context, id string) error {
	return l.post(ctx, "/workstations/"+id+"/start")
}

func (l *HTTPLifecycle) Stop(ctx context.Context, id string) error {
	return l.post(ctx, "/workstations/"+id+"/stop")
}

func (l *HTTPLifecycle) Describe(ctx context.Context, id string) (WorkstationState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url("/workstations/"+id), nil)
	if err != nil {
		return WorkstationState{}, err
	}
	l.authorize(req)

	resp, err := l.client().Do(req)
	if err != nil {
		return WorkstationState{}, fmt.Errorf("describe workstation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return WorkstationState{}, fmt.Errorf("describe workstation: status %d", resp.StatusCode)
	}

	var state WorkstationState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return WorkstationState{}, fmt.Errorf("decode workstation state: %w", err)
	}
	return state, nil
}

func (l *HTTPLifecycle) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url(path), nil)
	if err != nil {
		return err
	}
	l.authorize(req)

	resp, err := l.client().Do(req)
	if err != nil {
		return fmt.Errorf("lifecycle %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("lifecycle %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func (l *HTTPLifecycle) url(path string) string {
	return strings.TrimSuffix(l.BaseURL, "/") + path
}

func (l *HTTPLifecycle) authorize(req *http.Request) {
	if l.Token != "" {
		req.Header.Set("Authorization", "Bearer "+l.Token)
	}
}

func (l *HTTPLifecycle) client() *http.Client {
	if l.Client != nil {
		return l.Client
	}
	return http.DefaultClient
}
