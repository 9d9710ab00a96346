package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and platform adapters
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store or on the platform
// - ErrForbidden: the platform rejected an action for lack of permission
// - ErrConflict: entity already exists in a conflicting state
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
