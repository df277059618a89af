package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/duckviet/mind-notion-collab/internal/platform/errors"
)

const testSecret = "test-collab-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret, nil)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("  ", nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestVerifyAcceptsScopedToken(t *testing.T) {
	v := newTestVerifier(t)
	signed := signToken(t, testSecret, jwt.MapClaims{
		"note_id": "note-42",
		"user_id": "user-1",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.Verify(context.Background(), signed, "note-42")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.NoteID != "note-42" {
		t.Fatalf("note id = %q, want %q", claims.NoteID, "note-42")
	}
	if claims.UserID != "user-1" {
		t.Fatalf("user id = %q, want %q", claims.UserID, "user-1")
	}
	if claims.ExpiresAt.IsZero() {
		t.Fatal("expected expiry to be captured")
	}
}

func TestVerifyRejectsMissingNoteClaim(t *testing.T) {
	v := newTestVerifier(t)
	signed := signToken(t, testSecret, jwt.MapClaims{
		"user_id": "user-1",
	})

	_, err := v.Verify(context.Background(), signed, "note-42")
	if !apperrors.HasCode(err, apperrors.CodeTokenMissingNoteClaim) {
		t.Fatalf("err = %v, want missing note claim code", err)
	}
}

func TestVerifyRejectsScopeMismatch(t *testing.T) {
	v := newTestVerifier(t)
	signed := signToken(t, testSecret, jwt.MapClaims{
		"note_id": "note-42",
	})

	_, err := v.Verify(context.Background(), signed, "note-99")
	if !apperrors.HasCode(err, apperrors.CodeTokenScopeMismatch) {
		t.Fatalf("err = %v, want scope mismatch code", err)
	}
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error, got %T", err)
	}
	if domainErr.Metadata["note_id"] != "note-42" {
		t.Fatalf("metadata note_id = %q, want the token's scope", domainErr.Metadata["note_id"])
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := newTestVerifier(t)
	signed := signToken(t, testSecret, jwt.MapClaims{
		"note_id": "note-42",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})

	_, err := v.Verify(context.Background(), signed, "note-42")
	if !apperrors.HasCode(err, apperrors.CodeTokenInvalid) {
		t.Fatalf("err = %v, want invalid token code", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := newTestVerifier(t)
	signed := signToken(t, "another-secret", jwt.MapClaims{
		"note_id": "note-42",
	})

	_, err := v.Verify(context.Background(), signed, "note-42")
	if !apperrors.HasCode(err, apperrors.CodeTokenInvalid) {
		t.Fatalf("err = %v, want invalid token code", err)
	}
}

func TestVerifyRejectsUnsignedAlg(t *testing.T) {
	v := newTestVerifier(t)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"note_id": "note-42",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign unsigned token: %v", err)
	}

	_, verr := v.Verify(context.Background(), unsigned, "note-42")
	if !apperrors.HasCode(verr, apperrors.CodeTokenInvalid) {
		t.Fatalf("err = %v, want invalid token code", verr)
	}
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	v := newTestVerifier(t)
	_, err := v.Verify(context.Background(), "  ", "note-42")
	if !apperrors.HasCode(err, apperrors.CodeTokenInvalid) {
		t.Fatalf("err = %v, want invalid token code", err)
	}
}

func TestVerifyHonorsCancelledContext(t *testing.T) {
	v := newTestVerifier(t)
	signed := signToken(t, testSecret, jwt.MapClaims{"note_id": "note-42"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.Verify(ctx, signed, "note-42")
	if !apperrors.HasCode(err, apperrors.CodeTokenInvalid) {
		t.Fatalf("err = %v, want invalid token code", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want wrapped context.Canceled", err)
	}
}

func TestVerifyUsesInjectedClock(t *testing.T) {
	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v, err := NewVerifier(testSecret, func() time.Time { return frozen })
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	// Expired relative to wall time, valid relative to the frozen clock.
	signed := signToken(t, testSecret, jwt.MapClaims{
		"note_id": "note-42",
		"exp":     frozen.Add(time.Minute).Unix(),
	})

	if _, err := v.Verify(context.Background(), signed, "note-42"); err != nil {
		t.Fatalf("verify with frozen clock: %v", err)
	}
}
