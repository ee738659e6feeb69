package usecase

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("resource not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrIngestion             = errors.New("ingestion batch unusable")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
