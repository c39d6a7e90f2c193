package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/idplatform/oauthcore/roles"
	"github.com/idplatform/oauthcore/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth:"

	// tokenIDLogLength is the number of characters to include when logging
	// code and token prefixes
	tokenIDLogLength = 8

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of all storage interfaces.
// It implements ClientStore, CodeStore, and TokenStore, and is safe to
// share between multiple instances of the issuing service: the single-use
// code redemption is enforced server-side by a Lua script.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// tokenRecordKey returns the key for a token record: {prefix}tokrec:{id}
func (s *Store) tokenRecordKey(id string) string {
	return fmt.Sprintf("%stokrec:%s", s.prefix, id)
}

// accessIndexKey returns the key for the access token index: {prefix}access:{token}
func (s *Store) accessIndexKey(accessToken string) string {
	return fmt.Sprintf("%saccess:%s", s.prefix, accessToken)
}

// refreshIndexKey returns the key for the refresh token index: {prefix}refresh:{token}
func (s *Store) refreshIndexKey(refreshToken string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, refreshToken)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaAtomicRedeemCode atomically retrieves and deletes an authorization
// code. Codes are single-use: of any number of concurrent redemptions of
// the same code exactly one receives the data, the rest observe NOT_FOUND.
//
// The key is deleted before the expiry check so that an expired code is
// gone after its first redemption attempt as well.
//
// KEYS[1] = code key (e.g., "oauth:code:abc123")
// ARGV[1] = current Unix timestamp in seconds (for expiry check)
//
// Returns:
//   - Original JSON data if the code existed and had not expired
//   - "NOT_FOUND" if the key doesn't exist in Valkey
//   - "EXPIRED" if the code has expired (ARGV[1] > code.expires_at)
const luaAtomicRedeemCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

redis.call('DEL', KEYS[1])

local code = cjson.decode(data)
local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and expiresAt > 0 and now > expiresAt then
    return 'EXPIRED'
end

return data
`

// luaSaveTokenRecord writes a token record and its index keys as one atomic
// unit, so a backend failure can never leave an index without its record or
// a record without its indexes.
//
// KEYS[1] = record key, KEYS[2] = access index key,
// KEYS[3] = refresh index key (omitted when the record has no refresh token)
// ARGV[1] = record JSON, ARGV[2] = record ID,
// ARGV[3] = TTL in seconds (0 = no expiry)
const luaSaveTokenRecord = `
local ttl = tonumber(ARGV[3])
if ttl > 0 then
    redis.call('SET', KEYS[1], ARGV[1], 'EX', ttl)
    redis.call('SET', KEYS[2], ARGV[2], 'EX', ttl)
    if #KEYS == 3 then
        redis.call('SET', KEYS[3], ARGV[2], 'EX', ttl)
    end
else
    redis.call('SET', KEYS[1], ARGV[1])
    redis.call('SET', KEYS[2], ARGV[2])
    if #KEYS == 3 then
        redis.call('SET', KEYS[3], ARGV[2])
    end
end
return 'OK'
`

// ============================================================
// Helper methods
// ============================================================

// isNilError checks if the error indicates a nil/not-found result from Valkey.
// Uses the valkey-go library's built-in nil detection for robustness.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// unavailable wraps a backend failure so callers can map it to a
// storage-unavailable condition with errors.Is.
func unavailable(format string, err error) error {
	return fmt.Errorf("%w: "+format+": %v", storage.ErrUnavailable, err)
}

// safeTruncate safely truncates a string to n characters
func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// calculateTTL calculates the TTL for a key based on expiry time
// Returns 0 if the key has already expired
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// ============================================================
// JSON Serialization Helpers
// ============================================================

// clientJSON is the JSON representation of a registered client
type clientJSON struct {
	ID           string          `json:"client_id"`
	SecretHash   string          `json:"client_secret_hash,omitempty"`
	Name         string          `json:"client_name,omitempty"`
	GrantTypes   []string        `json:"grant_types,omitempty"`
	RedirectURIs []string        `json:"redirect_uris,omitempty"`
	DefaultRole  string          `json:"default_role,omitempty"`
	RoleMappings []roles.Mapping `json:"role_mappings,omitempty"`
	CreatedAt    int64           `json:"created_at"`
}

func toClientJSON(client *storage.Client) *clientJSON {
	return &clientJSON{
		ID:           client.ID,
		SecretHash:   client.SecretHash,
		Name:         client.Name,
		GrantTypes:   client.GrantTypes,
		RedirectURIs: client.RedirectURIs,
		DefaultRole:  client.DefaultRole,
		RoleMappings: client.RoleMappings,
		CreatedAt:    client.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ID:           j.ID,
		SecretHash:   j.SecretHash,
		Name:         j.Name,
		GrantTypes:   j.GrantTypes,
		RedirectURIs: j.RedirectURIs,
		DefaultRole:  j.DefaultRole,
		RoleMappings: j.RoleMappings,
		CreatedAt:    time.Unix(j.CreatedAt, 0),
	}
}

// authorizationCodeJSON is the JSON representation of an authorization code
type authorizationCodeJSON struct {
	Code        string               `json:"code"`
	ClientID    string               `json:"client_id"`
	RedirectURI string               `json:"redirect_uri"`
	Scope       string               `json:"scope,omitempty"`
	User        storage.UserSnapshot `json:"user"`
	CreatedAt   int64                `json:"created_at"`
	ExpiresAt   int64                `json:"expires_at"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:        code.Code,
		ClientID:    code.ClientID,
		RedirectURI: code.RedirectURI,
		Scope:       code.Scope,
		User:        code.User,
		CreatedAt:   code.CreatedAt.Unix(),
		ExpiresAt:   code.ExpiresAt.Unix(),
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationCode{
		Code:        j.Code,
		ClientID:    j.ClientID,
		RedirectURI: j.RedirectURI,
		Scope:       j.Scope,
		User:        j.User,
		CreatedAt:   time.Unix(j.CreatedAt, 0),
		ExpiresAt:   time.Unix(j.ExpiresAt, 0),
	}
}

// tokenJSON is the JSON representation of a token record
type tokenJSON struct {
	ID                    string            `json:"id"`
	AccessToken           string            `json:"access_token"`
	AccessTokenExpiresAt  int64             `json:"access_token_expires_at"`
	RefreshToken          string            `json:"refresh_token,omitempty"`
	RefreshTokenExpiresAt int64             `json:"refresh_token_expires_at,omitempty"`
	ClientID              string            `json:"client_id"`
	UserID                string            `json:"user_id"`
	User                  storage.TokenUser `json:"user"`
	CreatedAt             int64             `json:"created_at"`
}

func toTokenJSON(token *storage.Token) *tokenJSON {
	j := &tokenJSON{
		ID:                   token.ID,
		AccessToken:          token.AccessToken,
		AccessTokenExpiresAt: token.AccessTokenExpiresAt.Unix(),
		RefreshToken:         token.RefreshToken,
		ClientID:             token.ClientID,
		UserID:               token.UserID,
		User:                 token.User,
		CreatedAt:            token.CreatedAt.Unix(),
	}
	if !token.RefreshTokenExpiresAt.IsZero() {
		j.RefreshTokenExpiresAt = token.RefreshTokenExpiresAt.Unix()
	}
	return j
}

func fromTokenJSON(j *tokenJSON) *storage.Token {
	if j == nil {
		return nil
	}
	token := &storage.Token{
		ID:                   j.ID,
		AccessToken:          j.AccessToken,
		AccessTokenExpiresAt: time.Unix(j.AccessTokenExpiresAt, 0),
		RefreshToken:         j.RefreshToken,
		ClientID:             j.ClientID,
		UserID:               j.UserID,
		User:                 j.User,
		CreatedAt:            time.Unix(j.CreatedAt, 0),
	}
	if j.RefreshTokenExpiresAt > 0 {
		token.RefreshTokenExpiresAt = time.Unix(j.RefreshTokenExpiresAt, 0)
	}
	return token
}
