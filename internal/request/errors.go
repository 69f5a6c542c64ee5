package request

import "errors"

var (
	ErrEmptyPrompt     = errors.New("prompt is empty")
	ErrPromptTooLong   = errors.New("prompt too long")
	ErrInvalidKind     = errors.New("invalid kind")
	ErrInvalidDuration = errors.New("invalid video duration")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrNotFound        = errors.New("request not found")
	ErrAlreadyClosed   = errors.New("request already closed")
	ErrUnauthorized    = errors.New("unauthorized")
)
