package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Claims is the validated identity extracted from a bearer token.
type Claims struct {
	Subject  string
	Audience string
	Expiry   time.Time
}

// Provider verifies bearer tokens against the identity provider. Every call
// is an external verification; providers never retry on their own.
type Provider interface {
	Verify(ctx context.Context, token, audience string) (Claims, error)
}

// AuthError reasons.
const (
	ReasonUnauthenticated  = "unauthenticated"
	ReasonExpired          = "expired"
	ReasonAudienceMismatch = "audience mismatch"
)

// AuthError is returned for any token rejection. It surfaces as HTTP 401 or
// a channel close with reason "auth failed" and is never retried internally.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// Guard fronts a Provider with a positive-result cache. Entries live no
// longer than the token's own expiry, so there is no long-lived trust store.
type Guard struct {
	provider Provider
	timeout  time.Duration
	cache    *tokenCache
}

func NewGuard(p Provider, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Guard{
		provider: p,
		timeout:  timeout,
		cache:    newTokenCache(),
	}
}

// Verify validates token for the expected audience, returning the subject
// claims or an AuthError. Verification calls carry a bounded timeout.
func (g *Guard) Verify(ctx context.Context, token, audience string) (Claims, error) {
	if token == "" {
		return Claims{}, &AuthError{Reason: ReasonUnauthenticated}
	}

	if claims, ok := g.cache.get(token); ok {
		if claims.Audience != audience {
			return Claims{}, &AuthError{Reason: ReasonAudienceMismatch}
		}
		return claims, nil
	}

	vctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	claims, err := g.provider.Verify(vctx, token, audience)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			return Claims{}, err
		}
		return Claims{}, &AuthError{Reason: ReasonUnauthenticated, Err: err}
	}
	if !claims.Expiry.IsZero() && time.Now().After(claims.Expiry) {
		return Claims{}, &AuthError{Reason: ReasonExpired}
	}

	g.cache.put(token, claims)
	return claims, nil
}
