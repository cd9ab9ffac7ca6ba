package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrInvalidTransition  = errors.New("invalid generation transition")
	ErrTenantIsolation    = errors.New("tenant isolation violation")
	ErrDuplicateOperation = errors.New("duplicate operation")
	ErrUnsafeStorageKey   = errors.New("unsafe storage key")
	ErrArtifactValidation = errors.New("artifact validation failed")
)

// StorageError wraps a storage provider I/O failure. Validation and key
// safety failures never become a StorageError; they are rejected before any
// provider is reached.
type StorageError struct {
	Provider string
	Op       string
	Key      string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %s %q: %v", e.Provider, e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
