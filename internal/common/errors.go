package common

import "errors"

var (
	// ErrInvalidOrder is returned for malformed input. The book is not touched.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrUnknownOrder is returned when cancel or modify names an order
	// that is not resting.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrRejectedByPolicy is returned when a FOK order cannot fill in full.
	ErrRejectedByPolicy = errors.New("rejected by policy")
	// ErrCrossedBook means the settled book has best bid >= best ask.
	// It is an engine defect and halts the instrument.
	ErrCrossedBook = errors.New("crossed book invariant violation")
	// ErrInconsistentBook means the registry points at an order the book
	// does not hold. Like ErrCrossedBook it halts the instrument.
	ErrInconsistentBook = errors.New("order registry and book disagree")
	// ErrHalted is returned by every call after an invariant violation.
	ErrHalted = errors.New("instrument halted")
)
