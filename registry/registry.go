// Package registry maintains an in-process snapshot of registered clients.
//
// The registry reads the full client set from a storage.ClientStore on a
// fixed interval and serves lookups from the snapshot, so the hot path of
// token issuance never waits on the backing store. A failed reload keeps
// the previous snapshot and is logged; the registry degrades to stale
// data rather than failing lookups.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/idplatform/oauthcore/storage"
)

// DefaultReloadInterval is the default interval between snapshot reloads.
const DefaultReloadInterval = 30 * time.Second

// reloadTimeout bounds a single reload against a slow backing store.
const reloadTimeout = 10 * time.Second

// dummySecretHash is a pre-computed bcrypt hash compared against when the
// client does not exist or has no secret. The comparison is performed
// unconditionally so credential checks take the same time whether or not
// the client ID is known.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Registry serves client lookups from a periodically refreshed snapshot.
type Registry struct {
	store    storage.ClientStore
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	snapshot map[string]*storage.Client

	stopReload chan struct{}
	stopOnce   sync.Once
}

// Config holds configuration for the client registry.
type Config struct {
	// ReloadInterval is the interval between snapshot reloads.
	// Default: 30 seconds.
	ReloadInterval time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// New creates a registry backed by the given client store, performs an
// initial snapshot load, and starts the background reload loop. The
// initial load must succeed; a registry that never saw the client set
// would reject every request.
func New(ctx context.Context, store storage.ClientStore, cfg Config) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("client store is required")
	}

	interval := cfg.ReloadInterval
	if interval <= 0 {
		interval = DefaultReloadInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		store:      store,
		interval:   interval,
		logger:     logger,
		snapshot:   make(map[string]*storage.Client),
		stopReload: make(chan struct{}),
	}

	if err := r.reload(ctx); err != nil {
		return nil, fmt.Errorf("initial client snapshot load failed: %w", err)
	}

	go r.reloadLoop()

	return r, nil
}

// Stop gracefully stops the background reload loop.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopReload)
	})
}

// FindByID returns the client with the given ID from the current snapshot.
// Returns storage.ErrClientNotFound if the ID is unknown.
func (r *Registry) FindByID(clientID string) (*storage.Client, error) {
	r.mu.RLock()
	client, ok := r.snapshot[clientID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	return client.Clone(), nil
}

// FindByCredentials returns the client with the given ID if the secret
// matches its stored bcrypt hash. A bcrypt comparison runs on every call,
// against a dummy hash when the client is unknown, so response timing does
// not reveal whether the client ID exists.
//
// Returns storage.ErrClientNotFound for an unknown ID and
// storage.ErrInvalidClientSecret for a wrong secret.
func (r *Registry) FindByCredentials(clientID, clientSecret string) (*storage.Client, error) {
	r.mu.RLock()
	client, ok := r.snapshot[clientID]
	r.mu.RUnlock()

	hashToCompare := dummySecretHash
	if ok && client.SecretHash != "" {
		hashToCompare = client.SecretHash
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	if client.SecretHash == "" || bcryptErr != nil {
		return nil, storage.ErrInvalidClientSecret
	}

	return client.Clone(), nil
}

// Len returns the number of clients in the current snapshot.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.snapshot)
}

// Reload forces an immediate snapshot reload outside the periodic cycle.
func (r *Registry) Reload(ctx context.Context) error {
	return r.reload(ctx)
}

func (r *Registry) reloadLoop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopReload:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
			if err := r.reload(ctx); err != nil {
				// Keep serving the previous snapshot
				r.logger.Warn("Client snapshot reload failed, keeping previous snapshot",
					"error", err)
			}
			cancel()
		}
	}
}

func (r *Registry) reload(ctx context.Context) error {
	clients, err := r.store.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list clients: %w", err)
	}

	snapshot := make(map[string]*storage.Client, len(clients))
	for _, c := range clients {
		if c == nil || c.ID == "" {
			continue
		}
		snapshot[c.ID] = c.Clone()
	}

	r.mu.Lock()
	r.snapshot = snapshot
	r.mu.Unlock()

	r.logger.Debug("Reloaded client snapshot", "clients", len(snapshot))
	return nil
}
