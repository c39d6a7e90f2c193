// Package util provides small shared helpers used across oauthcore.
package util

// SafeTruncate safely truncates a string to maxLen characters without
// panicking. It is used when logging sensitive material like codes and
// tokens, where only a short prefix should be shown.
//
// If maxLen is negative, it returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
