// Package kit provides the endpoint plumbing shared by the HTTP and MCP
// transports: a transport-neutral Endpoint type, middleware chaining, and
// request-scoped context accessors.
package kit

import "context"

// Endpoint is a transport-neutral request handler. Transports decode the
// wire request into a typed value, call the endpoint, and encode the
// response back out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares outermost-first: Chain(a, b, c)(e) runs a,
// then b, then c, then e.
func Chain(mws ...Middleware) Middleware {
	return func(e Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			e = mws[i](e)
		}
		return e
	}
}
