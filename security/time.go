package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default grace period for expiry
	// checks. It prevents false expiration errors caused by time
	// synchronization drift between the issuing and validating hosts.
	// 5 seconds handles typical NTP drift while keeping the effective
	// lifetime extension negligible.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsExpired checks if a credential is expired with the default clock skew
// grace period.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks if a credential is expired with a custom
// clock skew grace period. A zero expiry never expires.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
