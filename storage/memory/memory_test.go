package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/idplatform/oauthcore/internal/testutil"
	"github.com/idplatform/oauthcore/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	t.Cleanup(s.Stop)
	return s
}

func TestClientRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := testutil.TestClient()
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}

	got, err := s.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}
	if got.ID != client.ID {
		t.Errorf("expected client ID %s, got %s", client.ID, got.ID)
	}
	if got.DefaultRole != client.DefaultRole {
		t.Errorf("expected default role %s, got %s", client.DefaultRole, got.DefaultRole)
	}

	// Mutating the returned copy must not affect the stored client
	got.Name = "mutated"
	again, err := s.GetClient(ctx, client.ID)
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}
	if again.Name == "mutated" {
		t.Error("stored client was mutated through a returned copy")
	}
}

func TestGetClientNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetClient(context.Background(), "nonexistent")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}
}

func TestListClients(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"client-a", "client-b", "client-c"} {
		c := testutil.TestClient()
		c.ID = id
		if err := s.SaveClient(ctx, c); err != nil {
			t.Fatalf("SaveClient failed: %v", err)
		}
	}

	clients, err := s.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients failed: %v", err)
	}
	if len(clients) != 3 {
		t.Errorf("expected 3 clients, got %d", len(clients))
	}
}

func TestRedeemAuthorizationCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testutil.TestAuthorizationCode()
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	got, err := s.RedeemAuthorizationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("RedeemAuthorizationCode failed: %v", err)
	}
	if got.ClientID != code.ClientID {
		t.Errorf("expected client ID %s, got %s", code.ClientID, got.ClientID)
	}
	if got.User.ID != code.User.ID {
		t.Errorf("expected user ID %s, got %s", code.User.ID, got.User.ID)
	}

	// Second redemption must fail: codes are single-use
	_, err = s.RedeemAuthorizationCode(ctx, code.Code)
	if !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("expected ErrCodeNotFound on second redemption, got %v", err)
	}
}

func TestRedeemExpiredCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testutil.TestAuthorizationCode()
	code.ExpiresAt = time.Now().Add(-time.Minute)
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	_, err := s.RedeemAuthorizationCode(ctx, code.Code)
	if !errors.Is(err, storage.ErrCodeExpired) {
		t.Errorf("expected ErrCodeExpired, got %v", err)
	}

	// The expired code is gone, not retrievable a second time
	_, err = s.RedeemAuthorizationCode(ctx, code.Code)
	if !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("expected ErrCodeNotFound after expired redemption, got %v", err)
	}
}

func TestConcurrentRedemption(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testutil.TestAuthorizationCode()
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	const goroutines = 50
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

	if successes != 1 {
		t.Errorf("expected exactly 1 successful redemption, got %d", successes)
	}
}

func TestDeleteAuthorizationCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testutil.TestAuthorizationCode()
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}
	if err := s.DeleteAuthorizationCode(ctx, code.Code); err != nil {
		t.Fatalf("DeleteAuthorizationCode failed: %v", err)
	}

	_, err := s.RedeemAuthorizationCode(ctx, code.Code)
	if !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("expected ErrCodeNotFound after delete, got %v", err)
	}

	// Deleting an absent code is not an error
	if err := s.DeleteAuthorizationCode(ctx, "nonexistent"); err != nil {
		t.Errorf("deleting nonexistent code failed: %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testutil.TestToken()
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	byAccess, err := s.GetTokenByAccess(ctx, token.AccessToken)
	if err != nil {
		t.Fatalf("GetTokenByAccess failed: %v", err)
	}
	if byAccess.ID != token.ID {
		t.Errorf("expected token ID %s, got %s", token.ID, byAccess.ID)
	}

	byRefresh, err := s.GetTokenByRefresh(ctx, token.RefreshToken)
	if err != nil {
		t.Fatalf("GetTokenByRefresh failed: %v", err)
	}
	if byRefresh.ID != token.ID {
		t.Errorf("expected token ID %s, got %s", token.ID, byRefresh.ID)
	}
}

func TestGetExpiredAccessToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testutil.TestToken()
	token.AccessTokenExpiresAt = time.Now().Add(-time.Hour)
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	_, err := s.GetTokenByAccess(ctx, token.AccessToken)
	if !errors.Is(err, storage.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}

	// The refresh token is still valid: refresh lookups must succeed even
	// when the access token has expired
	if _, err := s.GetTokenByRefresh(ctx, token.RefreshToken); err != nil {
		t.Errorf("GetTokenByRefresh failed for valid refresh token: %v", err)
	}
}

func TestGetExpiredRefreshToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testutil.TestToken()
	token.RefreshTokenExpiresAt = time.Now().Add(-time.Hour)
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	_, err := s.GetTokenByRefresh(ctx, token.RefreshToken)
	if !errors.Is(err, storage.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestDeleteToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testutil.TestToken()
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	if err := s.DeleteToken(ctx, token.ID); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}

	if _, err := s.GetTokenByAccess(ctx, token.AccessToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound by access, got %v", err)
	}
	if _, err := s.GetTokenByRefresh(ctx, token.RefreshToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound by refresh, got %v", err)
	}

	// Deleting an absent record is not an error
	if err := s.DeleteToken(ctx, "nonexistent"); err != nil {
		t.Errorf("deleting nonexistent token failed: %v", err)
	}
}

func TestSaveTokenRejectsDuplicateAccessToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testutil.TestToken()
	if err := s.SaveToken(ctx, first); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	second := testutil.TestToken()
	second.AccessToken = first.AccessToken
	if err := s.SaveToken(ctx, second); err == nil {
		t.Error("expected error saving a second record with the same access token")
	}
}

func TestCleanupRemovesExpiredEntries(t *testing.T) {
	s := NewWithInterval(10 * time.Millisecond)
	defer s.Stop()
	ctx := context.Background()

	expiredCode := testutil.TestAuthorizationCode()
	expiredCode.Code = "expired-code"
	expiredCode.ExpiresAt = time.Now().Add(-time.Minute)
	if err := s.SaveAuthorizationCode(ctx, expiredCode); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	deadToken := testutil.TestToken()
	deadToken.AccessTokenExpiresAt = time.Now().Add(-time.Hour)
	deadToken.RefreshTokenExpiresAt = time.Now().Add(-time.Hour)
	if err := s.SaveToken(ctx, deadToken); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	liveToken := testutil.TestToken()
	if err := s.SaveToken(ctx, liveToken); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	s.cleanup()

	s.mu.RLock()
	_, codeExists := s.codes[expiredCode.Code]
	_, deadExists := s.tokens[deadToken.ID]
	_, liveExists := s.tokens[liveToken.ID]
	s.mu.RUnlock()

	if codeExists {
		t.Error("expired code survived cleanup")
	}
	if deadExists {
		t.Error("fully expired token survived cleanup")
	}
	if !liveExists {
		t.Error("live token was removed by cleanup")
	}
}

func TestStoreCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveClient(ctx, testutil.TestClient()); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}
	if err := s.SaveToken(ctx, testutil.TestToken()); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	code := testutil.TestAuthorizationCode()
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	if got := s.clientsCountAtomic.Load(); got != 1 {
		t.Errorf("expected clients count 1, got %d", got)
	}
	if got := s.tokensCountAtomic.Load(); got != 1 {
		t.Errorf("expected tokens count 1, got %d", got)
	}
	if got := s.codesCountAtomic.Load(); got != 1 {
		t.Errorf("expected codes count 1, got %d", got)
	}

	if _, err := s.RedeemAuthorizationCode(ctx, code.Code); err != nil {
		t.Fatalf("RedeemAuthorizationCode failed: %v", err)
	}
	if got := s.codesCountAtomic.Load(); got != 0 {
		t.Errorf("expected codes count 0 after redemption, got %d", got)
	}
}
