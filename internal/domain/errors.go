package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidJob        = errors.New("invalid job")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownRecord     = errors.New("unknown record")
	ErrDuplicateOutcome  = errors.New("record already resolved")
	ErrUnresolvedRecords = errors.New("job has unresolved records")
	ErrJobNotTerminal    = errors.New("job is not finished")
	ErrNoJobAvailable    = errors.New("no job available")
)
