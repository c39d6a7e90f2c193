package storage

import (
	"testing"
	"time"

	"github.com/idplatform/oauthcore/roles"
)

func TestClientAllowsGrantType(t *testing.T) {
	client := &Client{GrantTypes: []string{"authorization_code", "refresh_token"}}

	if !client.AllowsGrantType("authorization_code") {
		t.Error("expected authorization_code to be allowed")
	}
	if client.AllowsGrantType("client_credentials") {
		t.Error("expected client_credentials to be rejected")
	}

	// An empty list means no restriction
	open := &Client{}
	if !open.AllowsGrantType("authorization_code") {
		t.Error("expected empty grant type list to allow any grant")
	}
}

func TestClientAllowsRedirectURI(t *testing.T) {
	client := &Client{RedirectURIs: []string{"https://example.com/callback"}}

	tests := []struct {
		name string
		uri  string
		want bool
	}{
		{"exact match", "https://example.com/callback", true},
		{"different path", "https://example.com/other", false},
		{"different host", "https://evil.example.net/callback", false},
		{"prefix is not a match", "https://example.com/callback/extra", false},
		{"case differs", "https://EXAMPLE.com/callback", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := client.AllowsRedirectURI(tt.uri); got != tt.want {
				t.Errorf("AllowsRedirectURI(%q) = %v, want %v", tt.uri, got, tt.want)
			}
		})
	}

	// An empty list means no restriction
	open := &Client{}
	if !open.AllowsRedirectURI("https://anywhere.example.com/cb") {
		t.Error("expected empty redirect URI list to allow any URI")
	}
}

func TestClientClone(t *testing.T) {
	client := &Client{
		ID:           "c1",
		GrantTypes:   []string{"authorization_code"},
		RedirectURIs: []string{"https://example.com/callback"},
		RoleMappings: []roles.Mapping{{RoleName: "admins", Role: "superuser"}},
	}

	clone := client.Clone()
	clone.GrantTypes[0] = "mutated"
	clone.RedirectURIs[0] = "mutated"
	clone.RoleMappings[0].Role = "mutated"

	if client.GrantTypes[0] != "authorization_code" {
		t.Error("GrantTypes slice is shared between client and clone")
	}
	if client.RedirectURIs[0] != "https://example.com/callback" {
		t.Error("RedirectURIs slice is shared between client and clone")
	}
	if client.RoleMappings[0].Role != "superuser" {
		t.Error("RoleMappings slice is shared between client and clone")
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Now()
	token := &Token{
		AccessTokenExpiresAt:  now.Add(-time.Minute),
		RefreshTokenExpiresAt: now.Add(time.Hour),
	}

	if !token.AccessTokenExpired(now) {
		t.Error("expected the access token to be expired")
	}
	if token.RefreshTokenExpired(now) {
		t.Error("expected the refresh token to still be valid")
	}

	// Zero expiry never expires
	open := &Token{}
	if open.AccessTokenExpired(now) || open.RefreshTokenExpired(now) {
		t.Error("zero expiry must never report expired")
	}
}

func TestTokenClone(t *testing.T) {
	token := &Token{
		ID:          "t1",
		AccessToken: "at",
		User:        TokenUser{ID: "u1", Role: "user"},
	}

	clone := token.Clone()
	clone.User.Role = "mutated"
	clone.AccessToken = "mutated"

	if token.User.Role != "user" || token.AccessToken != "at" {
		t.Error("token was mutated through its clone")
	}
}
