package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("invalid input")
	ErrConflict      = errors.New("conflicting state transition")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrUpstream      = errors.New("upstream collaborator failed")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)
