package clan

import "errors"

var (
	ErrEventNotFound  = errors.New("event not found")
	ErrEventClosed    = errors.New("event is closed")
	ErrDuplicateEntry = errors.New("already entered")
	ErrEntryLimit     = errors.New("entry limit reached")
	ErrAlreadySettled = errors.New("event already settled")
	ErrNotDue         = errors.New("event not due yet")
	ErrNotLinked      = errors.New("no linked game name")
)
