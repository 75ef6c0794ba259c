// Package jsonrpchttp carries rpc calls as JSON-RPC 2.0 requests over HTTP
// POST.
//
// The caller side is Transport. Each call is a single request whose params
// object holds the keyword arguments; the calling session travels in the
// X-Apppage-Session, X-Apppage-Realm and X-Apppage-Role headers. Session
// registration is tracked by the Transport itself so that calls through an
// unregistered session fail before reaching the network.
//
// The callee side is Handler, an http.Handler that dispatches requests to
// procedures registered per realm. Procedure failures are reported with code
// -32000 and the failure classification in error.data.uri.
package jsonrpchttp
