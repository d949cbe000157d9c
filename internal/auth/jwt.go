package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ProjectClaims are the JWT claims for a project identity token.
type ProjectClaims struct {
	jwt.RegisteredClaims
	ProjectID string `json:"project,omitempty"`
}

// JWTProvider validates HS256 identity tokens against a shared secret.
type JWTProvider struct {
	Secret []byte
}

// GenerateSecret returns a fresh base64-encoded HS256 signing secret.
func GenerateSecret() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secret), nil
}

// IssueToken creates a signed identity token for a subject and audience.
func IssueToken(secret []byte, subject, audience, projectID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ProjectClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ProjectID: projectID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates the token, checking signature, expiry, and
// audience. Implements Provider.
func (p *JWTProvider) Verify(ctx context.Context, tokenString, audience string) (Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ProjectClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, &AuthError{Reason: ReasonExpired, Err: err}
		}
		return Claims{}, &AuthError{Reason: ReasonUnauthenticated, Err: err}
	}

	claims, ok := token.Claims.(*ProjectClaims)
	if !ok || !token.Valid {
		return Claims{}, &AuthError{Reason: ReasonUnauthenticated, Err: errors.New("invalid claims")}
	}

	if audience != "" && !hasAudience(claims.Audience, audience) {
		return Claims{}, &AuthError{Reason: ReasonAudienceMismatch}
	}

	result := Claims{
		Subject:  claims.Subject,
		Audience: audience,
	}
	if claims.ExpiresAt != nil {
		result.Expiry = claims.ExpiresAt.Time
	}
	return result, nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
