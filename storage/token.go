package storage

import "time"

// TokenUser is the user identity embedded in an issued token: the snapshot
// taken at code issuance plus the role resolved from the owning client's
// role-mapping table.
type TokenUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Token is a persisted access/refresh token record. It is immutable after
// creation and never owned by more than one store.
type Token struct {
	ID                    string
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	ClientID              string
	UserID                string
	User                  TokenUser
	CreatedAt             time.Time
}

// AccessTokenExpired reports whether the access token is past its expiry
// at the given instant. A zero expiry never expires.
func (t *Token) AccessTokenExpired(now time.Time) bool {
	return !t.AccessTokenExpiresAt.IsZero() && now.After(t.AccessTokenExpiresAt)
}

// RefreshTokenExpired reports whether the refresh token is past its expiry
// at the given instant. A zero expiry never expires.
func (t *Token) RefreshTokenExpired(now time.Time) bool {
	return !t.RefreshTokenExpiresAt.IsZero() && now.After(t.RefreshTokenExpiresAt)
}

// Clone returns a deep copy of the token record.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
