package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider verifies tokens by calling an external identity endpoint.
// The endpoint receives {token, audience} and replies with the subject claim
// or a 401.
type HTTPProvider struct {
	Endpoint string
	Client   *http.Client
}

type verifyRequest struct {
	Token    string `json:"token"`
	Audience string `json:"audience"`
}

type verifyResponse struct {
	Subject string `json:"subject"`
	Expiry  int64  `json:"expiry,omitempty"` // unix seconds
	Error   string `json:"error,omitempty"`
}

func (p *HTTPProvider) Verify(ctx context.Context, token, audience string) (Claims, error) {
	body, err := json.Marshal(verifyRequest{Token: token, Audience: audience})
	if err != nil {
		return Claims{}, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Claims{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Claims{}, fmt.Errorf("verify call: %w", err)
	}
	defer resp.Body.Close()

	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return Claims{}, fmt.Errorf("decode verify response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		reason := ReasonUnauthenticated
		if vr.Error != "" {
			reason = vr.Error
		}
		return Claims{}, &AuthError{Reason: reason}
	default:
		return Claims{}, fmt.Errorf("verify endpoint: unexpected status %d", resp.StatusCode)
	}

	claims := Claims{Subject: vr.Subject, Audience: audience}
	if vr.Expiry > 0 {
		claims.Expiry = time.Unix(vr.Expiry, 0)
	}
	return claims, nil
}
