// Package errs defines the typed error kinds shared across the indicator
// engine, variant repository, strategy manager and backtest pipeline.
package errs

import "errors"

// Sentinel kinds. Callers dispatch with errors.Is; wrapped instances carry
// additional context via fmt.Errorf("...: %w", ErrX).
var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrUnknownAlgorithm  = errors.New("unknown algorithm")
	ErrVariantNotFound   = errors.New("variant not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrIndicatorNotFound = errors.New("indicator not found")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrCalculation       = errors.New("calculation error")
	ErrTransientStore    = errors.New("transient store error")
	ErrFatalStore        = errors.New("fatal store error")
	ErrCancelled         = errors.New("operation cancelled")
)
