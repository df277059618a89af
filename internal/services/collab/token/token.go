// Package token verifies the bearer credentials presented when a client
// connects to a note session. The notes backend mints these tokens; this
// service only checks them.
package token

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/duckviet/mind-notion-collab/internal/platform/errors"
)

// Claims captures the validated fields of a collaboration token.
type Claims struct {
	NoteID    string
	UserID    string
	ExpiresAt time.Time
}

type noteClaims struct {
	jwt.RegisteredClaims
	NoteID string `json:"note_id"`
	UserID string `json:"user_id,omitempty"`
}

// Verifier validates HS256-signed collaboration tokens against a note scope.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier builds a Verifier for the given shared secret. The now function
// is optional and exists for tests.
func NewVerifier(secret string, now func() time.Time) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), now: now}, nil
}

// Verify checks the token's signature and validity window and confirms its
// note scope matches noteID. It has no side effects and is safe to call
// repeatedly.
func (v *Verifier) Verify(ctx context.Context, tokenString string, noteID string) (Claims, error) {
	if err := ctx.Err(); err != nil {
		return Claims{}, apperrors.Wrap(apperrors.CodeTokenInvalid, "token verification cancelled", err)
	}
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "token is required")
	}

	var parsed noteClaims
	_, err := jwt.ParseWithClaims(tokenString, &parsed, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if strings.TrimSpace(parsed.NoteID) == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenMissingNoteClaim, "token missing note_id claim")
	}
	if parsed.NoteID != noteID {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeTokenScopeMismatch,
			"token scoped to another note",
			map[string]string{"note_id": parsed.NoteID},
		)
	}

	claims := Claims{
		NoteID: parsed.NoteID,
		UserID: strings.TrimSpace(parsed.UserID),
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to domain errors. Every decoding
// failure, including expiry and a wrong signing secret, is an invalid
// credential.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.Wrap(apperrors.CodeTokenInvalid, "token is expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.Wrap(apperrors.CodeTokenInvalid, "token signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperrors.Wrap(apperrors.CodeTokenInvalid, "token alg is invalid", err)
	default:
		return apperrors.Wrap(apperrors.CodeTokenInvalid, "token is invalid", err)
	}
}
