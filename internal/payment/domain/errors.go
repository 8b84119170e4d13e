package domain

import "errors"

var (
	ErrInvalidSignature = errors.New("payment_invalid_signature")
	ErrInvalidPayload   = errors.New("payment_invalid_payload")
	ErrInvalidEvent     = errors.New("payment_invalid_event")
	ErrEventIgnored     = errors.New("payment_event_ignored")
)
