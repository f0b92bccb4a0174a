package domain

import "errors"

var (
	// ErrInvalidEmail is returned when a login email fails the mailbox syntax check.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidCode is returned when an access code is not on the allow-list.
	ErrInvalidCode = errors.New("invalid access code")
	// ErrIdentityConflict is returned when a different identity has stored
	// progress and the user declined to discard it.
	ErrIdentityConflict = errors.New("existing progress belongs to another email")
	// ErrEmptyPool is returned when a paper has no questions to start from.
	ErrEmptyPool = errors.New("paper question pool is empty")
	// ErrPaperUnknown is returned for paper identifiers outside the fixed set.
	ErrPaperUnknown = errors.New("unknown paper")
	// ErrLocked is returned when an operation requires an authenticated identity.
	ErrLocked = errors.New("session is locked")
)
