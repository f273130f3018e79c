package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrDataIntegrity     = errors.New("data integrity fault")
	ErrInvalidTransition = errors.New("invalid status transition")
)
