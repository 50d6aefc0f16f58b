package tracker

import "errors"

var (
	// ErrNotFound reports an element the tracker does not know, or one
	// whose identity has ended (Lost or Removed).
	ErrNotFound = errors.New("tracker: element not found")

	// ErrDetached reports an element that is still tracked but whose live
	// node reference no longer resolves in the host.
	ErrDetached = errors.New("tracker: live node detached")

	// ErrClosed reports an operation on a closed tracker.
	ErrClosed = errors.New("tracker: closed")
)
