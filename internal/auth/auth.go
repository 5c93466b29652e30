// Package auth defines the caller-identity contract the lifecycle
// manager consumes. Credential issuance and user storage live outside
// this repository; the server only needs a verifier.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
)

// Identity is the verified caller attached to each request. It is
// threaded through context explicitly; there is no ambient token state.
type Identity struct {
	Subject string
}

// ErrInvalidToken is returned for missing or unverifiable credentials.
var ErrInvalidToken = errors.New("invalid or missing token")

// Verifier turns a bearer token into a caller identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// SharedTokenVerifier accepts a single pre-shared token. It stands in
// for the real auth collaborator in single-operator deployments.
type SharedTokenVerifier struct {
	digest [sha256.Size]byte
}

// NewSharedTokenVerifier builds a verifier for the given token.
func NewSharedTokenVerifier(token string) (*SharedTokenVerifier, error) {
	if token == "" {
		return nil, fmt.Errorf("shared auth token must not be empty")
	}
	return &SharedTokenVerifier{digest: sha256.Sum256([]byte(token))}, nil
}

// Verify compares the presented token in constant time.
func (v *SharedTokenVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	presented := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(presented[:], v.digest[:]) != 1 {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Subject: "operator"}, nil
}

type contextKey struct{}

// WithIdentity attaches a verified identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the verified identity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
