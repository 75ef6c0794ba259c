// Package apppage serves HTML pages whose content comes from remote procedure
// calls.
//
// For every request Handler matches the method and path against a
// routes.Table, resolves the caller's session handle from the session cookie,
// calls the route's procedure with the path variables as keyword arguments
// and renders the result through the route's template. Each step can fail;
// failures are classified by FailureKind and answered with a fixed HTML error
// page. The response is finished exactly once on every path.
//
// A panic while serving, including one raised by the procedure call itself,
// is answered with a best-effort error page and then re-raised so that
// net/http reports it.
package apppage
