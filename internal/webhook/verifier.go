// Package webhook ingests signed approve/reject callbacks from chat integrations.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the maximum clock distance accepted for a request timestamp.
const DefaultTolerance = 5 * time.Minute

// Verification errors.
var (
	ErrNoSecret             = errors.New("webhook signing secret not configured")
	ErrMissingSignature     = errors.New("missing signature or timestamp")
	ErrInvalidTimestamp     = errors.New("invalid request timestamp")
	ErrStaleTimestamp       = errors.New("request timestamp outside tolerance")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInsecureInProduction = errors.New("insecure webhooks cannot be enabled in production")
)

// VerifierConfig holds signature verification settings.
type VerifierConfig struct {
	SigningSecret string
	// AllowInsecure accepts unsigned requests when no secret is set.
	// Honored outside production only.
	AllowInsecure bool
	Environment   string
	Tolerance     time.Duration
}

// Verifier checks "v0" HMAC-SHA256 request signatures.
type Verifier struct {
	secret        []byte
	allowInsecure bool
	tolerance     time.Duration
	now           func() time.Time
}

// NewVerifier creates a verifier. It refuses to enable the insecure bypass
// in a production environment.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.AllowInsecure && IsProduction(cfg.Environment) {
		return nil, ErrInsecureInProduction
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:        []byte(cfg.SigningSecret),
		allowInsecure: cfg.AllowInsecure,
		tolerance:     cfg.Tolerance,
		now:           time.Now,
	}, nil
}

// IsProduction reports whether env names a production deployment.
func IsProduction(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod":
		return true
	}
	return false
}

// Verify authenticates body against the signature and timestamp headers.
func (v *Verifier) Verify(body []byte, signature, timestamp string) error {
	if len(v.secret) == 0 {
		if v.allowInsecure {
			slog.Warn("accepting unsigned webhook request, signing secret not configured")
			return nil
		}
		return ErrNoSecret
	}

	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return ErrStaleTimestamp
	}

	expected := Sign(v.secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the "v0=<hex>" signature of body at timestamp.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
