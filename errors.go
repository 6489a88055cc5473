package relayq

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("relayq: no store configured")
	ErrStoreClosed = errors.New("relayq: store closed")
	ErrPersistence = errors.New("relayq: persistence failure")

	// Not found errors.
	ErrJobNotFound   = errors.New("relayq: job not found")
	ErrQueueNotFound = errors.New("relayq: queue not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("relayq: job already exists")

	// State errors.
	ErrNoJob        = errors.New("relayq: no claimable job")
	ErrInvalidState = errors.New("relayq: invalid state transition")
)
