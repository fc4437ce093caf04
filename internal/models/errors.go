package models

import "fmt"

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrProjectLoad ErrorType = iota
	ErrPolicy
	ErrAgent
	ErrProvider
	ErrSigning
	ErrSecureStore
	ErrIdentity
	ErrFileOp
	ErrInvalidConfig
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrProjectLoad:
		return "ProjectLoad"
	case ErrPolicy:
		return "Policy"
	case ErrAgent:
		return "Agent"
	case ErrProvider:
		return "Provider"
	case ErrSigning:
		return "Signing"
	case ErrSecureStore:
		return "SecureStore"
	case ErrIdentity:
		return "Identity"
	case ErrFileOp:
		return "FileOp"
	case ErrInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// PackagingError represents an error during packaging orchestration
type PackagingError struct {
	Type   ErrorType
	Format string
	Err    error
}

// Error implements the error interface
func (e *PackagingError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Format, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *PackagingError) Unwrap() error {
	return e.Err
}
