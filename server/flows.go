package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/idplatform/oauthcore"
	"github.com/idplatform/oauthcore/roles"
	"github.com/idplatform/oauthcore/storage"
)

// Login validates an authenticated user's authorization request and issues
// a single-use authorization code bound to the client and redirect URI.
// The caller is responsible for having authenticated the user; the user
// snapshot is frozen into the code and later into the token record.
func (s *Server) Login(ctx context.Context, clientID, redirectURI, scope string, user storage.UserSnapshot) (*storage.AuthorizationCode, error) {
	if user.ID == "" {
		return nil, oauthcore.ErrInvalidRequest("authenticated user is required")
	}

	client, err := s.registry.FindByID(clientID)
	if err != nil {
		s.auditAuthFailure(user.ID, clientID, oauthcore.ErrorCodeInvalidClient)
		return nil, oauthcore.ErrInvalidClient("unknown client")
	}

	if !client.AllowsGrantType(oauthcore.GrantTypeAuthorizationCode) {
		s.auditAuthFailure(user.ID, clientID, "grant_type_not_allowed")
		return nil, oauthcore.ErrUnauthorizedClient("client is not allowed the authorization_code grant")
	}

	if !client.AllowsRedirectURI(redirectURI) {
		s.auditAuthFailure(user.ID, clientID, oauthcore.ErrorCodeInvalidRedirectURI)
		return nil, oauthcore.ErrInvalidRedirectURI("redirect URI is not registered for this client")
	}

	now := s.now()
	authCode := &storage.AuthorizationCode{
		Code:        s.generateToken(),
		ClientID:    client.ID,
		RedirectURI: redirectURI,
		Scope:       scope,
		User:        user,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}

	if err := s.codeStore.SaveAuthorizationCode(ctx, authCode); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, oauthcore.ErrStorageUnavailable("code store unavailable")
		}
		return nil, oauthcore.ErrServerError("failed to save authorization code")
	}

	if s.Auditor != nil {
		s.Auditor.LogCodeIssued(user.ID, client.ID, redirectURI)
	}
	if m := s.metrics(); m != nil {
		m.CodesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", client.ID)))
	}

	s.Logger.Info("Issued authorization code",
		"client_id", client.ID,
		"code_prefix", safeTruncate(authCode.Code, tokenLogLength))

	return authCode, nil
}

// AuthorizeRedirectURL builds the redirect URL that sends the user agent
// back to the client with the state and code parameters appended. Existing
// query parameters on the redirect URI are preserved.
func AuthorizeRedirectURL(redirectURI, state, code string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}

	q := u.Query()
	q.Set("state", state)
	q.Set("code", code)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ExchangeCode redeems an authorization code for a token pair. The code is
// consumed atomically: a second exchange of the same code fails regardless
// of whether the first succeeded, and is audited as a replay. The clientID
// must already be authenticated by the caller.
func (s *Server) ExchangeCode(ctx context.Context, code, clientID, redirectURI string) (*oauthcore.TokenResponse, error) {
	client, err := s.registry.FindByID(clientID)
	if err != nil {
		s.auditAuthFailure("", clientID, oauthcore.ErrorCodeInvalidClient)
		return nil, oauthcore.ErrInvalidClient("unknown client")
	}

	if !client.AllowsGrantType(oauthcore.GrantTypeAuthorizationCode) {
		s.auditAuthFailure("", clientID, "grant_type_not_allowed")
		return nil, oauthcore.ErrUnauthorizedClient("client is not allowed the authorization_code grant")
	}

	authCode, err := s.codeStore.RedeemAuthorizationCode(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeNotFound):
			// Unknown or already redeemed. An attacker replaying a stolen
			// code lands here, so this path is audited separately.
			if s.Auditor != nil {
				s.Auditor.LogCodeReplayRejected(clientID)
			}
			if m := s.metrics(); m != nil {
				m.CodeReplayRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
			}
			return nil, oauthcore.ErrInvalidGrant("invalid authorization code")
		case errors.Is(err, storage.ErrCodeExpired):
			s.auditAuthFailure("", clientID, "authorization_code_expired")
			return nil, oauthcore.ErrInvalidGrant("authorization code expired")
		case errors.Is(err, storage.ErrUnavailable):
			return nil, oauthcore.ErrStorageUnavailable("code store unavailable")
		default:
			return nil, oauthcore.ErrServerError("failed to redeem authorization code")
		}
	}

	// The code is bound to the client and redirect URI it was issued for.
	// The code is already consumed at this point, so a mismatch burns it.
	if authCode.ClientID != clientID {
		s.auditAuthFailure(authCode.User.ID, clientID, "authorization_code_client_mismatch")
		return nil, oauthcore.ErrInvalidGrant("authorization code was not issued to this client")
	}
	if authCode.RedirectURI != redirectURI {
		s.auditAuthFailure(authCode.User.ID, clientID, "authorization_code_redirect_mismatch")
		return nil, oauthcore.ErrInvalidGrant("redirect URI does not match the authorization request")
	}

	role := roles.Resolve(authCode.User.Roles, client.DefaultRole, client.RoleMappings)

	token, resp, err := s.issueToken(ctx, client.ID, authCode.User, role)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogCodeRedeemed(token.UserID, client.ID)
		s.Auditor.LogTokenIssued(token.UserID, client.ID, role)
	}
	if m := s.metrics(); m != nil {
		attrs := metric.WithAttributes(attribute.String("client_id", client.ID))
		m.CodesRedeemed.Add(ctx, 1, attrs)
		m.TokensIssued.Add(ctx, 1, attrs)
	}

	s.Logger.Info("Exchanged authorization code for tokens",
		"client_id", client.ID,
		"token_id", token.ID,
		"role", role)

	return resp, nil
}

// Refresh exchanges a refresh token for a fresh token pair. With rotation
// enabled (the default) the presented refresh token and its access token
// are retired and a new pair is issued; with rotation disabled the refresh
// token and its expiry carry over unchanged.
func (s *Server) Refresh(ctx context.Context, refreshToken, clientID string) (*oauthcore.TokenResponse, error) {
	client, err := s.registry.FindByID(clientID)
	if err != nil {
		s.auditAuthFailure("", clientID, oauthcore.ErrorCodeInvalidClient)
		return nil, oauthcore.ErrInvalidClient("unknown client")
	}

	if !client.AllowsGrantType(oauthcore.GrantTypeRefreshToken) {
		s.auditAuthFailure("", clientID, "grant_type_not_allowed")
		return nil, oauthcore.ErrUnauthorizedClient("client is not allowed the refresh_token grant")
	}

	old, err := s.tokenStore.GetTokenByRefresh(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenNotFound):
			s.auditAuthFailure("", clientID, "refresh_token_not_found")
			return nil, oauthcore.ErrInvalidGrant("invalid refresh token")
		case errors.Is(err, storage.ErrTokenExpired):
			s.auditAuthFailure("", clientID, "refresh_token_expired")
			return nil, oauthcore.ErrInvalidGrant("refresh token expired")
		case errors.Is(err, storage.ErrUnavailable):
			return nil, oauthcore.ErrStorageUnavailable("token store unavailable")
		default:
			return nil, oauthcore.ErrServerError("failed to look up refresh token")
		}
	}

	if old.ClientID != clientID {
		s.auditAuthFailure(old.UserID, clientID, "refresh_token_client_mismatch")
		return nil, oauthcore.ErrInvalidGrant("refresh token was not issued to this client")
	}

	rotated := !s.Config.DisableRefreshTokenRotation
	now := s.now()

	token := &storage.Token{
		ID:                   newRecordID(),
		AccessToken:          s.generateToken(),
		AccessTokenExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
		ClientID:             old.ClientID,
		UserID:               old.UserID,
		User:                 old.User,
		CreatedAt:            now,
	}
	if rotated {
		token.RefreshToken = s.generateToken()
		token.RefreshTokenExpiresAt = now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second)
	} else {
		token.RefreshToken = old.RefreshToken
		token.RefreshTokenExpiresAt = old.RefreshTokenExpiresAt
	}

	// The old record is retired before the new one is written so the
	// carried-over refresh token string never maps to two records.
	if err := s.tokenStore.DeleteToken(ctx, old.ID); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, oauthcore.ErrStorageUnavailable("token store unavailable")
		}
		return nil, oauthcore.ErrServerError("failed to retire token record")
	}

	if err := s.tokenStore.SaveToken(ctx, token); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, oauthcore.ErrStorageUnavailable("token store unavailable")
		}
		return nil, oauthcore.ErrServerError("failed to save token record")
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(token.UserID, clientID, rotated)
	}
	if m := s.metrics(); m != nil {
		m.TokensRefreshed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("client_id", clientID),
			attribute.Bool("rotated", rotated),
		))
	}

	s.Logger.Info("Refreshed tokens",
		"client_id", clientID,
		"token_id", token.ID,
		"rotated", rotated)

	return s.tokenResponse(token, now), nil
}

// IntrospectAccessToken reports the state of an access token. Unknown and
// expired tokens yield an inactive result rather than an error, so callers
// cannot distinguish the two cases.
func (s *Server) IntrospectAccessToken(ctx context.Context, accessToken string) (*oauthcore.TokenInfo, error) {
	token, err := s.tokenStore.GetTokenByAccess(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			return &oauthcore.TokenInfo{Active: false}, nil
		}
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, oauthcore.ErrStorageUnavailable("token store unavailable")
		}
		return nil, oauthcore.ErrServerError("failed to look up access token")
	}

	return &oauthcore.TokenInfo{
		Active:    true,
		ClientID:  token.ClientID,
		UserID:    token.UserID,
		Username:  token.User.Username,
		Role:      token.User.Role,
		ExpiresAt: token.AccessTokenExpiresAt.Unix(),
	}, nil
}

// IntrospectRefreshToken reports the state of a refresh token with the
// same inactive-over-error behavior as IntrospectAccessToken.
func (s *Server) IntrospectRefreshToken(ctx context.Context, refreshToken string) (*oauthcore.TokenInfo, error) {
	token, err := s.tokenStore.GetTokenByRefresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			return &oauthcore.TokenInfo{Active: false}, nil
		}
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, oauthcore.ErrStorageUnavailable("token store unavailable")
		}
		return nil, oauthcore.ErrServerError("failed to look up refresh token")
	}

	return &oauthcore.TokenInfo{
		Active:    true,
		ClientID:  token.ClientID,
		UserID:    token.UserID,
		Username:  token.User.Username,
		Role:      token.User.Role,
		ExpiresAt: token.RefreshTokenExpiresAt.Unix(),
	}, nil
}

// ValidateAccessToken returns the token record behind a live access token,
// for resource endpoints that need the frozen user identity and role.
func (s *Server) ValidateAccessToken(ctx context.Context, accessToken string) (*storage.Token, error) {
	token, err := s.tokenStore.GetTokenByAccess(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, oauthcore.ErrStorageUnavailable("token store unavailable")
		}
		return nil, oauthcore.ErrInvalidToken("invalid or expired access token")
	}
	return token, nil
}

// HandleTokenRequest authenticates the client and dispatches a token
// endpoint request to the matching grant handler. The returned OAuthError
// carries the wire error code and HTTP status for the transport layer.
func (s *Server) HandleTokenRequest(ctx context.Context, req *oauthcore.TokenRequest) (*oauthcore.TokenResponse, *oauthcore.OAuthError) {
	if req == nil || req.ClientID == "" {
		return nil, oauthcore.ErrInvalidRequest("client_id is required")
	}

	if s.RateLimiter != nil && !s.RateLimiter.Allow(req.ClientID) {
		if s.Auditor != nil {
			s.Auditor.LogRateLimitExceeded(req.ClientID)
		}
		return nil, oauthcore.ErrRateLimitExceeded("too many token requests")
	}

	if req.ClientSecret != "" {
		if _, err := s.registry.FindByCredentials(req.ClientID, req.ClientSecret); err != nil {
			s.auditAuthFailure("", req.ClientID, oauthcore.ErrorCodeInvalidClient)
			return nil, oauthcore.ErrInvalidClient("client authentication failed")
		}
	} else {
		// Public clients carry no secret. A confidential client must always
		// present its secret, so a registered hash with no secret is a failure.
		client, err := s.registry.FindByID(req.ClientID)
		if err != nil || client.SecretHash != "" {
			s.auditAuthFailure("", req.ClientID, oauthcore.ErrorCodeInvalidClient)
			return nil, oauthcore.ErrInvalidClient("client authentication failed")
		}
	}

	var (
		resp *oauthcore.TokenResponse
		err  error
	)

	switch req.GrantType {
	case oauthcore.GrantTypeAuthorizationCode:
		if req.Code == "" {
			return nil, oauthcore.ErrInvalidRequest("code is required")
		}
		resp, err = s.ExchangeCode(ctx, req.Code, req.ClientID, req.RedirectURI)
	case oauthcore.GrantTypeRefreshToken:
		if req.RefreshToken == "" {
			return nil, oauthcore.ErrInvalidRequest("refresh_token is required")
		}
		resp, err = s.Refresh(ctx, req.RefreshToken, req.ClientID)
	default:
		return nil, oauthcore.ErrUnsupportedGrantType(
			fmt.Sprintf("unsupported grant type: %s", req.GrantType))
	}

	if err != nil {
		var oauthErr *oauthcore.OAuthError
		if errors.As(err, &oauthErr) {
			return nil, oauthErr
		}
		return nil, oauthcore.ErrServerError("token request failed")
	}

	return resp, nil
}

// issueToken creates, persists, and renders a fresh token record
func (s *Server) issueToken(ctx context.Context, clientID string, user storage.UserSnapshot, role string) (*storage.Token, *oauthcore.TokenResponse, error) {
	now := s.now()
	token := &storage.Token{
		ID:                    newRecordID(),
		AccessToken:           s.generateToken(),
		AccessTokenExpiresAt:  now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
		RefreshToken:          s.generateToken(),
		RefreshTokenExpiresAt: now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
		ClientID:              clientID,
		UserID:                user.ID,
		User: storage.TokenUser{
			ID:       user.ID,
			Name:     user.Name,
			Username: user.Username,
			Role:     role,
		},
		CreatedAt: now,
	}

	if err := s.tokenStore.SaveToken(ctx, token); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, nil, oauthcore.ErrStorageUnavailable("token store unavailable")
		}
		return nil, nil, oauthcore.ErrServerError("failed to save token record")
	}

	return token, s.tokenResponse(token, now), nil
}

// tokenResponse renders a token record as a token endpoint response
func (s *Server) tokenResponse(token *storage.Token, now time.Time) *oauthcore.TokenResponse {
	resp := &oauthcore.TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(token.AccessTokenExpiresAt.Sub(now).Seconds()),
	}
	if token.RefreshToken != "" {
		resp.RefreshToken = token.RefreshToken
		resp.RefreshTokenExpiresIn = int64(token.RefreshTokenExpiresAt.Sub(now).Seconds())
	}
	return resp
}

// auditAuthFailure logs an authentication failure when auditing is enabled
func (s *Server) auditAuthFailure(userID, clientID, reason string) {
	if s.Auditor != nil {
		s.Auditor.LogAuthFailure(userID, clientID, reason)
	}
}
