package ledger

import "errors"

var (
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrBalanceUpdateFailed    = errors.New("balance update failed")
	ErrReferenceNotFound      = errors.New("reference not found")
	ErrForbidden              = errors.New("forbidden")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrInvalidInput           = errors.New("invalid input")
	ErrAffiliateIDTaken       = errors.New("affiliate id already assigned")
)
