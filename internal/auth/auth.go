// Package auth validates operator bearer tokens and agent report tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Authentication errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSubject    = errors.New("token has no subject")
	ErrEmptySecret  = errors.New("secret is empty")
)

// Claims are the operator token claims. Subject carries the actor name.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator validates HS256 operator tokens.
type TokenValidator struct {
	secret []byte
	issuer string
}

// NewTokenValidator creates a validator. issuer may be empty.
func NewTokenValidator(secret, issuer string) (*TokenValidator, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &TokenValidator{secret: []byte(secret), issuer: issuer}, nil
}

// ValidateToken checks the signature and expiry and returns the subject.
func (v *TokenValidator) ValidateToken(_ context.Context, tokenStr string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}

// IssueToken signs a token for subject. Used by tooling and tests.
func IssueToken(secret, issuer, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AgentTokenChecker compares agent tokens against a bcrypt hash.
type AgentTokenChecker struct {
	hash []byte
}

// NewAgentTokenChecker creates a checker for a bcrypt hash.
func NewAgentTokenChecker(hash string) (*AgentTokenChecker, error) {
	if hash == "" {
		return nil, ErrEmptySecret
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("parse agent token hash: %w", err)
	}
	return &AgentTokenChecker{hash: []byte(hash)}, nil
}

// Check returns ErrInvalidToken unless token matches the hash.
func (c *AgentTokenChecker) Check(token string) error {
	if err := bcrypt.CompareHashAndPassword(c.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// HashAgentToken returns the bcrypt hash to put in auth.agent_token_hash.
func HashAgentToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptySecret
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash agent token: %w", err)
	}
	return string(hash), nil
}
