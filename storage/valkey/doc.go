// Package valkey provides a Valkey-backed implementation of the storage
// interfaces for multi-instance deployments.
//
// The backend implements storage.ClientStore, storage.CodeStore, and
// storage.TokenStore on a single shared Valkey (or Redis-compatible)
// server. All keys share a configurable prefix so multiple deployments
// can coexist in one database.
//
// # Key layout
//
//	{prefix}client:{clientID}   registered client, JSON
//	{prefix}code:{code}         authorization code, JSON, TTL = code lifetime
//	{prefix}tokrec:{id}         token record, JSON, TTL = longest token lifetime
//	{prefix}access:{token}      access token -> record ID index
//	{prefix}refresh:{token}     refresh token -> record ID index
//
// # Atomicity
//
// Authorization codes are single-use. Redemption executes a Lua script
// that reads and deletes the code key in one server-side step, so
// concurrent redemptions of the same code across any number of service
// instances resolve to exactly one winner. Plain GET followed by DEL
// would leave a window in which two instances both observe the code.
//
// # Expiry
//
// Key TTLs reclaim abandoned codes and fully expired token records
// without a cleanup pass. Expiry is still double-checked in Go against
// the timestamps stored in the record, because a token record outlives
// its access token while the refresh token remains valid, and because
// server clocks may disagree with the issuing process.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{
//		Address: "localhost:6379",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
package valkey
