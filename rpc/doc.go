// Package rpc defines the contract between the application page bridge and
// the remote procedure backend it calls into.
//
// Layers & Roles
//
//	apppage   -> matches a route, resolves a session, issues one call per request
//	sessions  -> owns session handles and registers them with a Transport
//	Transport -> registers sessions and carries named calls to the backend
//
// # Transport Interface
//
// A Transport must see RegisterSession for a session before any Call is
// placed through it. Calls carry keyword arguments only; positional arguments
// are not part of the contract. A failed call that was answered by the
// backend is reported as a *CallError so its text can be surfaced to users.
//
// Implementations
//
//	memoryrpc   : in-process router used for tests and single-process setups
//	redisrpc    : Redis lists as request/reply queues, with a callee worker
//	jsonrpchttp : JSON-RPC 2.0 over HTTP POST, with a callee http.Handler
//
// # Futures
//
// Invoke starts a call on its own goroutine and returns a Future. Awaiting a
// Future is bounded by a context; canceling the context that was passed to
// Invoke cancels the call itself.
package rpc
