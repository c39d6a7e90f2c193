// Package security provides supporting security features for the OAuth
// core: audit logging with PII protection, per-identifier rate limiting,
// and clock-skew-tolerant expiry checks.
package security
