package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/idplatform/oauthcore/security"
	"github.com/idplatform/oauthcore/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// recordTTL returns the TTL for a token record: the record must outlive
// both the access token and the refresh token. Returns 0 when neither
// expiry is set, meaning no TTL.
func recordTTL(token *storage.Token) time.Duration {
	expiry := token.AccessTokenExpiresAt
	if token.RefreshToken != "" && token.RefreshTokenExpiresAt.After(expiry) {
		expiry = token.RefreshTokenExpiresAt
	}
	if expiry.IsZero() {
		return 0
	}
	return calculateTTL(expiry)
}

// SaveToken saves an issued token record. The record is stored under its ID
// with secondary index keys mapping the access and refresh token strings
// back to the ID. All keys carry a TTL covering the longest-lived token in
// the record, so fully expired records are reclaimed by the server.
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	if token == nil || token.ID == "" || token.AccessToken == "" {
		return fmt.Errorf("invalid token record")
	}

	data, err := json.Marshal(toTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	ttl := recordTTL(token)
	if !token.AccessTokenExpiresAt.IsZero() && ttl <= 0 {
		return fmt.Errorf("token record already expired")
	}

	keys := []string{
		s.tokenRecordKey(token.ID),
		s.accessIndexKey(token.AccessToken),
	}
	if token.RefreshToken != "" {
		keys = append(keys, s.refreshIndexKey(token.RefreshToken))
	}

	var ttlSeconds int64
	if ttl > 0 {
		ttlSeconds = int64(math.Ceil(ttl.Seconds()))
	}

	// Record and index keys are written by a single Lua script so a partial
	// save can never leave an index pointing at a missing record.
	err = s.client.Do(ctx,
		s.client.B().Eval().Script(luaSaveTokenRecord).
			Numkeys(int64(len(keys))).
			Key(keys...).
			Arg(string(data), token.ID, strconv.FormatInt(ttlSeconds, 10)).
			Build(),
	).Error()
	if err != nil {
		return unavailable("failed to save token record", err)
	}

	s.logger.Debug("Saved token",
		"token_id", token.ID,
		"client_id", token.ClientID)
	return nil
}

// getTokenByIndex resolves an index key to a record ID and loads the record.
func (s *Store) getTokenByIndex(ctx context.Context, indexKey string) (*storage.Token, error) {
	id, err := s.client.Do(ctx, s.client.B().Get().Key(indexKey).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, unavailable("failed to resolve token index", err)
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenRecordKey(id)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, unavailable("failed to get token record", err)
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}

	return fromTokenJSON(&j), nil
}

// GetTokenByAccess retrieves a token record by its access token string.
// An expired access token is reported as ErrTokenExpired. TTL handles
// removal of fully expired records, but the expiry is double-checked here
// because the record outlives the access token while the refresh token is
// still valid.
func (s *Store) GetTokenByAccess(ctx context.Context, accessToken string) (*storage.Token, error) {
	token, err := s.getTokenByIndex(ctx, s.accessIndexKey(accessToken))
	if err != nil {
		return nil, err
	}

	if security.IsExpired(token.AccessTokenExpiresAt) {
		return nil, fmt.Errorf("%w: access token", storage.ErrTokenExpired)
	}

	return token, nil
}

// GetTokenByRefresh retrieves a token record by its refresh token string.
// An expired refresh token is reported as ErrTokenExpired. The access-token
// expiry is not checked: refreshing an expired access token is the normal
// case.
func (s *Store) GetTokenByRefresh(ctx context.Context, refreshToken string) (*storage.Token, error) {
	token, err := s.getTokenByIndex(ctx, s.refreshIndexKey(refreshToken))
	if err != nil {
		return nil, err
	}

	if security.IsExpired(token.RefreshTokenExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token", storage.ErrTokenExpired)
	}

	return token, nil
}

// DeleteToken removes a token record and its index keys by record ID
func (s *Store) DeleteToken(ctx context.Context, id string) error {
	recordKey := s.tokenRecordKey(id)

	// Load the record first to find the index keys
	data, err := s.client.Do(ctx, s.client.B().Get().Key(recordKey).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil
		}
		return unavailable("failed to get token record", err)
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(data), &j); err == nil {
		if delErr := s.client.Do(ctx, s.client.B().Del().Key(s.accessIndexKey(j.AccessToken)).Build()).Error(); delErr != nil {
			s.logger.Warn("Failed to delete access token index",
				"token_id", id,
				"error", delErr)
		}
		if j.RefreshToken != "" {
			if delErr := s.client.Do(ctx, s.client.B().Del().Key(s.refreshIndexKey(j.RefreshToken)).Build()).Error(); delErr != nil {
				s.logger.Warn("Failed to delete refresh token index",
					"token_id", id,
					"error", delErr)
			}
		}
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(recordKey).Build()).Error(); err != nil {
		return unavailable("failed to delete token record", err)
	}

	s.logger.Debug("Deleted token", "token_id", id)
	return nil
}
