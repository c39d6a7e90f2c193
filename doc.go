// Package oauthcore provides the shared wire types and error vocabulary
// for an OAuth 2.0 authorization-code and refresh-token issuing service.
//
// The flow logic lives in the server package, client lookups in registry,
// role mapping in roles, and persistence behind the storage interfaces
// with in-memory and Valkey implementations. This package holds what
// every layer speaks: token endpoint request and response shapes, the
// introspection result, and OAuthError values carrying the RFC 6749
// error code plus the HTTP status a transport should answer with.
package oauthcore
