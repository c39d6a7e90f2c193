// Package testutil provides shared fixtures for oauthcore tests.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/idplatform/oauthcore/roles"
	"github.com/idplatform/oauthcore/storage"
)

// TestClientSecret is the plaintext secret matching TestClient's hash
const TestClientSecret = "secret"

// TestClient creates a test OAuth client. The secret hash corresponds to
// TestClientSecret.
func TestClient() *storage.Client {
	return &storage.Client{
		ID:           "test-client-id",
		SecretHash:   "$2a$10$4LPCNIX9O/LDzOAKpJdYR.8544sZKRidPgkDXXpdUmf8QopMHZZfi", // hash of "secret"
		Name:         "Test Client",
		GrantTypes:   []string{"authorization_code", "refresh_token"},
		RedirectURIs: []string{"https://example.com/callback"},
		DefaultRole:  "user",
		RoleMappings: []roles.Mapping{
			{RoleName: "admins", Role: "superuser"},
		},
		CreatedAt: time.Now(),
	}
}

// TestUser creates a test user snapshot
func TestUser() storage.UserSnapshot {
	return storage.UserSnapshot{
		ID:       "test-user-123",
		Username: "tester@example.com",
		Name:     "Test User",
		Roles:    []string{"users"},
	}
}

// TestAuthorizationCode creates a test authorization code bound to
// TestClient and TestUser.
func TestAuthorizationCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        GenerateRandomString(43),
		ClientID:    "test-client-id",
		RedirectURI: "https://example.com/callback",
		Scope:       "profile",
		User:        TestUser(),
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
}

// TestToken creates a test token record
func TestToken() *storage.Token {
	user := TestUser()
	return &storage.Token{
		ID:                    uuid.NewString(),
		AccessToken:           GenerateRandomString(43),
		AccessTokenExpiresAt:  time.Now().Add(time.Hour),
		RefreshToken:          GenerateRandomString(43),
		RefreshTokenExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		ClientID:              "test-client-id",
		UserID:                user.ID,
		User: storage.TokenUser{
			ID:       user.ID,
			Name:     user.Name,
			Username: user.Username,
			Role:     "user",
		},
		CreatedAt: time.Now(),
	}
}

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}
