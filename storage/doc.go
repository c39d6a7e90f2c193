// Package storage provides interfaces and shared record types for OAuth
// client, authorization-code, and token persistence.
//
// The storage package defines the core contracts used throughout oauthcore:
//   - ClientStore: the persistence collaborator for registered clients
//   - CodeStore: single-use authorization codes with atomic redemption
//   - TokenStore: issued access/refresh token records
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for single-instance deployments and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage
