package server

import (
	"log/slog"
)

// Config holds the token issuance configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL), used for logging
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 86400 (24 hours)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 2592000 (30 days)

	// DisableRefreshTokenRotation keeps the same refresh token across
	// refresh grants instead of rotating it. Rotation is on by default:
	// each refresh invalidates the previous token pair, so a stolen
	// refresh token stops working as soon as the legitimate client
	// refreshes.
	DisableRefreshTokenRotation bool // default: false (rotation enabled)

	// TokenRequestsPerSecond limits token endpoint requests per client.
	// 0 disables rate limiting.
	TokenRequestsPerSecond int

	// TokenRequestBurst is the burst allowance for the per-client rate
	// limiter. Default: 10 when rate limiting is enabled.
	TokenRequestBurst int
}

// applyDefaults applies default configuration values and logs any settings
// that weaken the default posture
func applyDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 86400 // 24 hours
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 2592000 // 30 days
	}
	if config.TokenRequestsPerSecond > 0 && config.TokenRequestBurst == 0 {
		config.TokenRequestBurst = 10
	}

	if config.DisableRefreshTokenRotation {
		logger.Warn("Refresh token rotation is disabled; stolen refresh tokens stay valid until expiry")
	}

	return config
}
