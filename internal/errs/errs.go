// Package errs holds the sentinel errors shared by the store, gateway and transport layers.
package errs

import "errors"

var (
	// ErrUnauthenticated means the caller identity is missing or does not resolve to a user.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrValidation means the request was malformed (empty body, self-send, oversized text, bad cursor).
	ErrValidation = errors.New("validation error")

	// ErrNotFound means a referenced user or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidIdentity means an external identity key was empty or malformed.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrOverloaded means a subscriber fell behind its queue capacity and was dropped.
	ErrOverloaded = errors.New("overloaded")
)
