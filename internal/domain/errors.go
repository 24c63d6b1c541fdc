package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrLanguageNotFound = fmt.Errorf("language %w", ErrNotFound)
	ErrUserNotFound     = fmt.Errorf("user %w", ErrNotFound)
	ErrChatNotFound     = fmt.Errorf("chat %w", ErrNotFound)
	ErrMessageNotFound  = fmt.Errorf("message %w", ErrNotFound)

	ErrConstraint = errors.New("constraint violation")
	ErrTransient  = errors.New("transient failure")

	ErrEmptyMessage    = errors.New("empty message")
	ErrDocumentMissing = errors.New("document expected but missing")
	ErrInvalidURL      = errors.New("invalid url")
	ErrEmptyResponse   = errors.New("empty model response")
	ErrUnidentified    = errors.New("user could not be identified")

	// Exchange rate lookups.
	ErrRatePage    = errors.New("rate page unavailable")
	ErrRateBody    = errors.New("rate page unreadable")
	ErrRateMissing = errors.New("rate not found on page")
)
