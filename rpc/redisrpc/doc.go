// Package redisrpc implements rpc.Transport on top of Redis lists so that the
// bridge and the procedures it calls can live in different processes.
//
// Key layout (all keys share the configured prefix):
//
//	session:<id>                : hash {realm, role}, refreshed with a TTL on registration
//	procedures:<realm>          : set of procedures that currently have a callee
//	calls:<realm>:<procedure>   : list of pending call envelopes (LPUSH / BRPOP)
//	reply:<call id>             : list receiving exactly one reply (RPUSH / BLPOP)
//
// The caller side is the Transport itself. The callee side is started with
// Register, which announces the procedure and runs a worker until stopped.
//
// Characteristics
//
//	Durability        : pending calls survive a caller restart, replies expire
//	Horizontal scale  : yes (competing consumers per procedure)
//	Ordering          : FIFO per procedure queue
package redisrpc
