// Package memory provides an in-memory broadcast transport for
// single-process deployments and tests.
package memory

import "errors"

var (
	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")
)
