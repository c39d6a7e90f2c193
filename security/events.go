package security

// Event type constants for security audit logging.
// These constants keep event names consistent across the codebase.
const (
	// EventCodeIssued is logged when an authorization code is issued
	EventCodeIssued = "authorization_code_issued"

	// EventCodeRedeemed is logged when an authorization code is exchanged for a token
	EventCodeRedeemed = "authorization_code_redeemed"

	// EventCodeReplayRejected is logged when a second redemption of the same
	// code is rejected (possible replay attack)
	EventCodeReplayRejected = "authorization_code_replay_rejected"

	// EventTokenIssued is logged when a new access token is issued
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is refreshed
	EventTokenRefreshed = "token_refreshed"

	// EventAuthFailure is logged when client or grant validation fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
