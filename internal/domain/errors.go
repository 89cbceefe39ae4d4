package domain

import "errors"

// ErrInvalidRequest indicates that an evaluation request contains invalid data.
var ErrInvalidRequest = errors.New("invalid evaluation request")

// ErrInvalidEnum indicates a value outside a closed enumeration.
var ErrInvalidEnum = errors.New("invalid enumeration value")

// ErrInvalidResult indicates a structured result that violates its shape.
var ErrInvalidResult = errors.New("invalid structured result")

// ErrInconsistentSummary indicates a summary bucket naming an item that is
// missing from the itemized list or carries a different status there.
var ErrInconsistentSummary = errors.New("summary inconsistent with items")

// ErrUnknownShape indicates a shape name with no descriptor or fallback.
var ErrUnknownShape = errors.New("unknown result shape")
