// Package memoryrpc provides an in-process rpc.Transport suitable for tests,
// development, and single-process deployments where the procedures live in
// the same binary as the bridge. All state is ephemeral.
//
// Characteristics
//
//	Durability        : none (RAM only)
//	Horizontal scale  : no (process local)
//	Dispatch          : direct function call on the caller's goroutine
//	Concurrency       : safe (RWMutex guarded registries)
//
// Example:
//
//	router := memoryrpc.New()
//	router.Register("realm1", "com.example.greet", func(ctx context.Context, d rpc.CallDetails, kw map[string]any) (any, error) {
//		return map[string]any{"name": kw["name"]}, nil
//	})
//	// router is an rpc.Transport; hand it to sessions.NewRegistry(...)
//
// For multi-process deployments prefer redisrpc or jsonrpchttp.
package memoryrpc
