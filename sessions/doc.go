// Package sessions associates clients with registered RPC session handles.
//
// A Registry owns one shared default handle, used for requests that carry no
// session token, and a cache of handles keyed by the exact bytes of a client
// token. Every handle is registered with the rpc.Transport before it is handed
// out, so calls placed through a handle returned by Resolve never race its
// registration.
//
// # Cache
//
// The default cache is a bounded LRU with an optional TTL (NewLRUCache).
// Handles that leave the cache, through eviction, expiry or Close, are
// unregistered from the transport in the background.
//
// # Concurrency
//
// Registry is safe for concurrent use. Concurrent resolution of the same new
// token is collapsed so that exactly one handle is created and registered; the
// first one stored wins.
//
// # Roles
//
// Every handle carries a role. Roles for token holders come from a
// RoleResolver; the default, AnonymousRoles, always answers RoleAnonymous.
package sessions
