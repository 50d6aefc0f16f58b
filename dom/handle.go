// Package dom defines the minimal live-node surface the engine needs from
// a host. The engine never drives a browser itself; hosts hand it handles
// and it only ever asks two things of them.
package dom

import "context"

// Handle is a non-owning reference to a live DOM node in the host. It may
// go stale at any time; callers check Attached before acting and still
// tolerate failure, since the node can detach between the two calls.
type Handle interface {
	Attached() bool
	ScrollIntoView(ctx context.Context) error
}

// Resolver returns a live handle for an absolute XPath, or nil when the
// host cannot (or does not) provide one.
type Resolver func(xpath string) Handle
