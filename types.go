package oauthcore

// GrantType values accepted at the token endpoint
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// TokenResponse represents a successful token endpoint response
type TokenResponse struct {
	// AccessToken is the issued access token
	AccessToken string `json:"access_token"`

	// TokenType is the type of token, always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`

	// RefreshToken is the issued refresh token, if any
	RefreshToken string `json:"refresh_token,omitempty"`

	// RefreshTokenExpiresIn is the refresh token lifetime in seconds
	RefreshTokenExpiresIn int64 `json:"refresh_token_expires_in,omitempty"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenRequest represents the parameters of a token endpoint request.
// Exactly which fields are required depends on GrantType.
type TokenRequest struct {
	// GrantType selects the grant, "authorization_code" or "refresh_token"
	GrantType string `json:"grant_type"`

	// Code is the authorization code (authorization_code grant)
	Code string `json:"code,omitempty"`

	// RedirectURI is the redirect URI the code was issued for
	// (authorization_code grant)
	RedirectURI string `json:"redirect_uri,omitempty"`

	// RefreshToken is the refresh token (refresh_token grant)
	RefreshToken string `json:"refresh_token,omitempty"`

	// ClientID identifies the requesting client
	ClientID string `json:"client_id"`

	// ClientSecret authenticates the requesting client
	ClientSecret string `json:"client_secret,omitempty"`
}

// TokenInfo is the result of introspecting a token
type TokenInfo struct {
	// Active reports whether the token is currently valid
	Active bool `json:"active"`

	// ClientID is the client the token was issued to
	ClientID string `json:"client_id,omitempty"`

	// UserID is the authenticated user the token represents
	UserID string `json:"user_id,omitempty"`

	// Username is the user's login name
	Username string `json:"username,omitempty"`

	// Role is the role resolved for the user at issuance time
	Role string `json:"role,omitempty"`

	// ExpiresAt is the token expiry as a Unix timestamp in seconds
	ExpiresAt int64 `json:"exp,omitempty"`
}
