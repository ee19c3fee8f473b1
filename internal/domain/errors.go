package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")

	// Approval failures. Each aborts the whole approval.
	ErrMalformedRequest    = errors.New("malformed request")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidCategoryTag  = errors.New("category tag should be a substring of the item id")
	ErrInsufficientQuota   = errors.New("insufficient quota")

	// ErrSubStoreCollision means two index keys hashed to the same sub-store
	// id. It aborts the approval like any storage failure.
	ErrSubStoreCollision = errors.New("index sub-store id collision")
)
