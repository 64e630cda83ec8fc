package klippekort

import "errors"

var (
	ErrInvalidStampCount    = errors.New("stamp count must be at least 1")
	ErrInsufficientBalance  = errors.New("insufficient stamp balance")
	ErrCardNotFound         = errors.New("punch card not found")
	ErrCardRefunded         = errors.New("punch card has been refunded")
	ErrCardExpired          = errors.New("punch card has expired")
	ErrVersionConflict      = errors.New("punch card was modified concurrently")
	ErrRedemptionInProgress = errors.New("another redemption is in progress for this card")
	ErrOrderExists          = errors.New("order already exists")
	ErrOrderNotFound        = errors.New("order not found")
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrInvalidOrder         = errors.New("invalid order")
)
