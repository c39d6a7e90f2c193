// Package storage defines interfaces for persisting OAuth clients,
// authorization codes, and issued tokens.
// It supports various backend implementations including in-memory and Valkey.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/idplatform/oauthcore/roles"
)

// Sentinel errors returned by storage implementations. Callers match them
// with errors.Is; implementations wrap them with %w to add detail.
var (
	// ErrClientNotFound indicates the client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidClientSecret indicates the presented secret does not match
	ErrInvalidClientSecret = errors.New("invalid client secret")

	// ErrCodeNotFound indicates the authorization code does not exist or was already redeemed
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeExpired indicates the authorization code exists but is past its expiry
	ErrCodeExpired = errors.New("authorization code expired")

	// ErrTokenNotFound indicates no token record matches the lookup
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired indicates the token record exists but is past its expiry
	ErrTokenExpired = errors.New("token expired")

	// ErrUnavailable indicates the backing store could not be reached.
	// This is the only error kind callers may reasonably retry.
	ErrUnavailable = errors.New("storage unavailable")
)

// ClientStore is the persistence collaborator for OAuth client records.
// The registry package builds its periodically refreshed lookup snapshot
// on top of this interface.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients lists all registered clients (for registry snapshots)
	ListClients(ctx context.Context) ([]*Client, error)
}

// CodeStore persists single-use authorization codes.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// RedeemAuthorizationCode atomically retrieves and deletes an
	// authorization code in one step. Exactly one of any number of
	// concurrent redemptions of the same code succeeds; every other
	// caller receives ErrCodeNotFound. A code past its expiry is removed
	// and reported as ErrCodeExpired.
	// SECURITY: This operation MUST be atomic to prevent replay and
	// double-token-issuance races.
	RedeemAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code without redeeming it
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore persists issued access/refresh token records.
// Save must be durable before the caller reports issuance success.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveToken saves an issued token record
	SaveToken(ctx context.Context, token *Token) error

	// GetTokenByAccess retrieves a token record by its access token string
	GetTokenByAccess(ctx context.Context, accessToken string) (*Token, error)

	// GetTokenByRefresh retrieves a token record by its refresh token string
	GetTokenByRefresh(ctx context.Context, refreshToken string) (*Token, error)

	// DeleteToken removes a token record by its record ID
	DeleteToken(ctx context.Context, id string) error
}

// Client represents a registered OAuth client.
// A client handed out by a registry snapshot is immutable for the lifetime
// of the request that looked it up.
type Client struct {
	ID           string
	SecretHash   string // bcrypt hash
	Name         string
	GrantTypes   []string
	RedirectURIs []string // empty = no restriction
	DefaultRole  string
	RoleMappings []roles.Mapping // ordered; last match wins
	CreatedAt    time.Time
}

// AllowsGrantType reports whether the client may use the given grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether redirectURI is acceptable for this
// client. An empty registered list means no restriction; a non-empty list
// requires an exact match.
func (c *Client) AllowsRedirectURI(redirectURI string) bool {
	if len(c.RedirectURIs) == 0 {
		return true
	}
	for _, uri := range c.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the client.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	cp := *c
	cp.GrantTypes = append([]string(nil), c.GrantTypes...)
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.RoleMappings = append([]roles.Mapping(nil), c.RoleMappings...)
	return &cp
}

// UserSnapshot is a minimal projection of an external user record, copied
// by value into codes and tokens to decouple them from the identity store's
// lifecycle.
type UserSnapshot struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Name     string   `json:"name"`
	Roles    []string `json:"roles"`
}

// AuthorizationCode represents an issued single-use authorization code.
// It is owned exclusively by the CodeStore until redemption removes it.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	RedirectURI string
	Scope       string
	User        UserSnapshot
	CreatedAt   time.Time
	ExpiresAt   time.Time
}
