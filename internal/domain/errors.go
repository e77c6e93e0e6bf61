package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure: no infrastructure dependency.

var (
	// Dispatch errors
	ErrResourceNotFound = errors.New("resource not found")
	ErrResourceExists   = errors.New("resource already registered")
	ErrClientNotFound   = errors.New("client holds no request on resource")
	ErrDependencyCycle  = errors.New("resource dependency would form a cycle")

	// Operating-point errors
	ErrInvalidDomain     = errors.New("invalid voltage domain")
	ErrInvalidLevel      = errors.New("level outside operating-point table")
	ErrInvalidTable      = errors.New("invalid operating-point table")
	ErrTablesUnavailable = errors.New("operating-point tables not loaded")
	ErrLockUnderflow     = errors.New("domain lock count would drop below zero")

	// Collaborator errors
	ErrClockNotFound       = errors.New("clock not found")
	ErrClockRate           = errors.New("clock rate change failed")
	ErrPowerDomainNotFound = errors.New("power domain not found")
	ErrConstraint          = errors.New("constraint service failure")
)
