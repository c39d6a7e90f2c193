// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments; multi-instance deployments need a shared backend such as
// storage/valkey.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/idplatform/oauthcore/instrumentation"
	"github.com/idplatform/oauthcore/internal/util"
	"github.com/idplatform/oauthcore/security"
	"github.com/idplatform/oauthcore/storage"
)

// tokenIDLogLength is the number of characters to include when logging
// code and token prefixes. Enough for debugging without leaking the value.
const tokenIDLogLength = 8

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, CodeStore, and TokenStore.
type Store struct {
	mu sync.RWMutex

	clients map[string]*storage.Client
	codes   map[string]*storage.AuthorizationCode

	// Token records indexed by record ID, with secondary indexes by
	// access and refresh token string.
	tokens    map[string]*storage.Token
	byAccess  map[string]string // access token -> record ID
	byRefresh map[string]string // refresh token -> record ID

	// Instrumentation
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer

	// Atomic counters for gauges (lock-free access during metric collection)
	tokensCountAtomic  atomic.Int64
	clientsCountAtomic atomic.Int64
	codesCountAtomic   atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default of 1 minute
// is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		codes:           make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.Token),
		byAccess:        make(map[string]string),
		byRefresh:       make(map[string]string),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.inst = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}

	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.tokensCountAtomic.Load() },
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	close(s.stopCleanup)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.clients[client.ID]
	s.clients[client.ID] = client.Clone()
	if !existed {
		s.clientsCountAtomic.Add(1)
	}

	s.logger.Debug("Saved client", "client_id", client.ID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	return client.Clone(), nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "list_clients")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "list_clients", nil, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c.Clone())
	}
	return clients, nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.codes[code.Code]
	codeCopy := *code
	s.codes[code.Code] = &codeCopy
	if !existed {
		s.codesCountAtomic.Add(1)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// RedeemAuthorizationCode atomically retrieves and deletes an authorization
// code. The check-and-delete happens under the store write lock, so of any
// number of concurrent redemptions of the same code exactly one succeeds;
// the rest observe ErrCodeNotFound.
//
// An expired code is removed and reported as ErrCodeExpired.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "redeem_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "redeem_authorization_code", err, startTime)
	}()

	s.mu.Lock() // MUST use write lock for atomic check-and-delete
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		err = storage.ErrCodeNotFound
		return nil, err
	}

	// The entry is removed regardless of outcome: a second redemption of
	// the same code must observe NotFound, and an expired code is dead.
	delete(s.codes, code)
	s.codesCountAtomic.Add(-1)

	if security.IsExpired(authCode.ExpiresAt) {
		err = fmt.Errorf("%w: issued at %s", storage.ErrCodeExpired, authCode.CreatedAt.Format(time.RFC3339))
		return nil, err
	}

	s.logger.Debug("Redeemed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))

	codeCopy := *authCode
	return &codeCopy, nil
}

// DeleteAuthorizationCode removes an authorization code without redeeming it
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_authorization_code")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_authorization_code", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code]; ok {
		delete(s.codes, code)
		s.codesCountAtomic.Add(-1)
	}
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveToken saves an issued token record
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	ctx, span := s.startStorageSpan(ctx, "save_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_token", err, startTime)
	}()

	if token == nil || token.ID == "" || token.AccessToken == "" {
		err = fmt.Errorf("invalid token record")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Access and refresh token strings are globally unique across all
	// clients; a collision means the caller is misusing the store.
	if id, ok := s.byAccess[token.AccessToken]; ok && id != token.ID {
		err = fmt.Errorf("access token already in use by record %s", id)
		return err
	}
	if token.RefreshToken != "" {
		if id, ok := s.byRefresh[token.RefreshToken]; ok && id != token.ID {
			err = fmt.Errorf("refresh token already in use by record %s", id)
			return err
		}
	}

	_, existed := s.tokens[token.ID]
	s.tokens[token.ID] = token.Clone()
	s.byAccess[token.AccessToken] = token.ID
	if token.RefreshToken != "" {
		s.byRefresh[token.RefreshToken] = token.ID
	}
	if !existed {
		s.tokensCountAtomic.Add(1)
	}

	s.logger.Debug("Saved token",
		"token_id", token.ID,
		"client_id", token.ClientID)
	return nil
}

// GetTokenByAccess retrieves a token record by its access token string.
// An expired access token is reported as ErrTokenExpired.
func (s *Store) GetTokenByAccess(ctx context.Context, accessToken string) (*storage.Token, error) {
	ctx, span := s.startStorageSpan(ctx, "get_token_by_access")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_token_by_access", err, startTime)
	}()

	s.mu.RLock()
	id, ok := s.byAccess[accessToken]
	var token *storage.Token
	if ok {
		token = s.tokens[id]
	}
	s.mu.RUnlock()

	if token == nil {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	if security.IsExpired(token.AccessTokenExpiresAt) {
		err = fmt.Errorf("%w: access token", storage.ErrTokenExpired)
		return nil, err
	}

	return token.Clone(), nil
}

// GetTokenByRefresh retrieves a token record by its refresh token string.
// An expired refresh token is reported as ErrTokenExpired. The access-token
// expiry is not checked here: refreshing an expired access token is the
// normal case.
func (s *Store) GetTokenByRefresh(ctx context.Context, refreshToken string) (*storage.Token, error) {
	ctx, span := s.startStorageSpan(ctx, "get_token_by_refresh")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_token_by_refresh", err, startTime)
	}()

	s.mu.RLock()
	id, ok := s.byRefresh[refreshToken]
	var token *storage.Token
	if ok {
		token = s.tokens[id]
	}
	s.mu.RUnlock()

	if token == nil {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	if security.IsExpired(token.RefreshTokenExpiresAt) {
		err = fmt.Errorf("%w: refresh token", storage.ErrTokenExpired)
		return nil, err
	}

	return token.Clone(), nil
}

// DeleteToken removes a token record and its indexes by record ID
func (s *Store) DeleteToken(ctx context.Context, id string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_token")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_token", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return nil
	}

	delete(s.tokens, id)
	delete(s.byAccess, token.AccessToken)
	if token.RefreshToken != "" {
		delete(s.byRefresh, token.RefreshToken)
	}
	s.tokensCountAtomic.Add(-1)

	s.logger.Debug("Deleted token", "token_id", id)
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup discards expired authorization codes and token records whose
// access and refresh tokens are both past expiry.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removedCodes := 0
	for code, authCode := range s.codes {
		if security.IsExpired(authCode.ExpiresAt) {
			delete(s.codes, code)
			s.codesCountAtomic.Add(-1)
			removedCodes++
		}
	}

	removedTokens := 0
	for id, token := range s.tokens {
		if security.IsExpired(token.AccessTokenExpiresAt) &&
			(token.RefreshToken == "" || security.IsExpired(token.RefreshTokenExpiresAt)) {
			delete(s.tokens, id)
			delete(s.byAccess, token.AccessToken)
			if token.RefreshToken != "" {
				delete(s.byRefresh, token.RefreshToken)
			}
			s.tokensCountAtomic.Add(-1)
			removedTokens++
		}
	}

	if removedCodes > 0 || removedTokens > 0 {
		s.logger.Debug("Cleaned up expired entries",
			"codes", removedCodes,
			"tokens", removedTokens)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

// startStorageSpan starts a tracing span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))
}

// recordStorageOperation records metrics for a storage operation and sets
// the span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.inst == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	s.inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
