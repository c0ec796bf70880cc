package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an insight, entity, or module does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownModule is returned for a module name absent from the catalog.
	ErrUnknownModule = fmt.Errorf("unknown module: %w", ErrNotFound)

	// ErrInvalidTransition is returned when a lifecycle move is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrScanInProgress is returned when a full scan is requested while one is running.
	ErrScanInProgress = errors.New("scan already in progress")
)
