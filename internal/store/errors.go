package store

import "errors"

// Failure kinds surfaced to callers, distinct from the wire-level kinds in
// package authz so the store can be used standalone (e.g. by the admin API).
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrInvalid       = errors.New("store: invalid argument")
)
