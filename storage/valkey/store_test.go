package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idplatform/oauthcore/internal/testutil"
	"github.com/idplatform/oauthcore/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests will be skipped if the server at VALKEY_TEST_ADDR (default
// localhost:6379) is not reachable. Each test gets a unique prefix to
// ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("oauthtest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

// ============================================================
// Config Tests
// ============================================================

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNew_InvalidAddress(t *testing.T) {
	_, err := New(Config{Address: "invalid:99999"})
	require.Error(t, err)
}

// ============================================================
// Serialization Tests (no server required)
// ============================================================

func TestClientJSONRoundTrip(t *testing.T) {
	client := testutil.TestClient()

	data, err := json.Marshal(toClientJSON(client))
	require.NoError(t, err)

	var j clientJSON
	require.NoError(t, json.Unmarshal(data, &j))

	got := fromClientJSON(&j)
	assert.Equal(t, client.ID, got.ID)
	assert.Equal(t, client.SecretHash, got.SecretHash)
	assert.Equal(t, client.GrantTypes, got.GrantTypes)
	assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, client.DefaultRole, got.DefaultRole)
	assert.Equal(t, client.RoleMappings, got.RoleMappings)
}

func TestAuthorizationCodeJSONRoundTrip(t *testing.T) {
	code := testutil.TestAuthorizationCode()

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	require.NoError(t, err)

	var j authorizationCodeJSON
	require.NoError(t, json.Unmarshal(data, &j))

	got := fromAuthorizationCodeJSON(&j)
	assert.Equal(t, code.Code, got.Code)
	assert.Equal(t, code.ClientID, got.ClientID)
	assert.Equal(t, code.RedirectURI, got.RedirectURI)
	assert.Equal(t, code.User, got.User)
	assert.Equal(t, code.ExpiresAt.Unix(), got.ExpiresAt.Unix())
}

func TestTokenJSONRoundTrip(t *testing.T) {
	token := testutil.TestToken()

	data, err := json.Marshal(toTokenJSON(token))
	require.NoError(t, err)

	var j tokenJSON
	require.NoError(t, json.Unmarshal(data, &j))

	got := fromTokenJSON(&j)
	assert.Equal(t, token.ID, got.ID)
	assert.Equal(t, token.AccessToken, got.AccessToken)
	assert.Equal(t, token.RefreshToken, got.RefreshToken)
	assert.Equal(t, token.ClientID, got.ClientID)
	assert.Equal(t, token.User, got.User)
	assert.Equal(t, token.AccessTokenExpiresAt.Unix(), got.AccessTokenExpiresAt.Unix())
	assert.Equal(t, token.RefreshTokenExpiresAt.Unix(), got.RefreshTokenExpiresAt.Unix())
}

func TestTokenJSONWithoutRefresh(t *testing.T) {
	token := testutil.TestToken()
	token.RefreshToken = ""
	token.RefreshTokenExpiresAt = time.Time{}

	data, err := json.Marshal(toTokenJSON(token))
	require.NoError(t, err)

	var j tokenJSON
	require.NoError(t, json.Unmarshal(data, &j))

	got := fromTokenJSON(&j)
	assert.Empty(t, got.RefreshToken)
	assert.True(t, got.RefreshTokenExpiresAt.IsZero())
}

// ============================================================
// Integration Tests (require a Valkey server)
// ============================================================

func TestValkeyClientRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	client := testutil.TestClient()
	require.NoError(t, s.SaveClient(ctx, client))

	got, err := s.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, client.ID, got.ID)
	assert.Equal(t, client.RoleMappings, got.RoleMappings)

	_, err = s.GetClient(ctx, "nonexistent")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
}

func TestValkeyListClients(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"client-a", "client-b"} {
		c := testutil.TestClient()
		c.ID = id
		require.NoError(t, s.SaveClient(ctx, c))
	}

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 2)
}

func TestValkeyRedeemAuthorizationCode(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := testutil.TestAuthorizationCode()
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	got, err := s.RedeemAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Equal(t, code.ClientID, got.ClientID)
	assert.Equal(t, code.User.ID, got.User.ID)

	// Second redemption must fail: codes are single-use
	_, err = s.RedeemAuthorizationCode(ctx, code.Code)
	assert.ErrorIs(t, err, storage.ErrCodeNotFound)
}

func TestValkeyConcurrentRedemption(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := testutil.TestAuthorizationCode()
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	const goroutines = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RedeemAuthorizationCode(ctx, code.Code); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one concurrent redemption must succeed")
}

func TestValkeySaveExpiredCodeRejected(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := testutil.TestAuthorizationCode()
	code.ExpiresAt = time.Now().Add(-time.Minute)
	err := s.SaveAuthorizationCode(ctx, code)
	require.Error(t, err)
}

func TestValkeyTokenRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := testutil.TestToken()
	require.NoError(t, s.SaveToken(ctx, token))

	byAccess, err := s.GetTokenByAccess(ctx, token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, token.ID, byAccess.ID)

	byRefresh, err := s.GetTokenByRefresh(ctx, token.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, token.ID, byRefresh.ID)

	require.NoError(t, s.DeleteToken(ctx, token.ID))

	_, err = s.GetTokenByAccess(ctx, token.AccessToken)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = s.GetTokenByRefresh(ctx, token.RefreshToken)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestValkeySaveTokenWritesAllKeysWithTTL(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := testutil.TestToken()
	require.NoError(t, s.SaveToken(ctx, token))

	// The script writes the record plus both index keys in one unit, each
	// carrying a TTL that covers the longest-lived token in the record.
	for _, key := range []string{
		s.tokenRecordKey(token.ID),
		s.accessIndexKey(token.AccessToken),
		s.refreshIndexKey(token.RefreshToken),
	} {
		ttl, err := s.client.Do(ctx, s.client.B().Ttl().Key(key).Build()).AsInt64()
		require.NoError(t, err)
		assert.Greater(t, ttl, int64(0), "key %s should exist with a TTL", key)
	}
}

func TestValkeySaveTokenWithoutRefreshSkipsRefreshIndex(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := testutil.TestToken()
	refresh := token.RefreshToken
	token.RefreshToken = ""
	token.RefreshTokenExpiresAt = time.Time{}
	require.NoError(t, s.SaveToken(ctx, token))

	_, err := s.GetTokenByAccess(ctx, token.AccessToken)
	require.NoError(t, err)

	_, err = s.GetTokenByRefresh(ctx, refresh)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestValkeyGetExpiredAccessToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Access token expired but refresh token still valid: the record must
	// stay retrievable by refresh token while access lookups fail
	token := testutil.TestToken()
	token.AccessTokenExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.SaveToken(ctx, token))

	_, err := s.GetTokenByAccess(ctx, token.AccessToken)
	require.Error(t, err)
	if !errors.Is(err, storage.ErrTokenExpired) && !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenExpired or ErrTokenNotFound, got %v", err)
	}

	_, err = s.GetTokenByRefresh(ctx, token.RefreshToken)
	require.NoError(t, err)
}
