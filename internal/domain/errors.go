// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates caller-supplied input or configuration is invalid.
// Wrapped errors carry the detail: fmt.Errorf("%w: budget must be >= 0", ErrValidation).
var ErrValidation = errors.New("validation failed")
