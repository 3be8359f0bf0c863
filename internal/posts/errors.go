package posts

import (
	"errors"
	"fmt"
)

// ErrBanned is returned by Submit for users with the banned flag.
var ErrBanned = errors.New("user is banned")

// ErrNotFound is returned by Moderate for an unknown post id.
var ErrNotFound = errors.New("post not found")

type Reason string

const (
	ReasonEmptyText     Reason = "EMPTY_TEXT"
	ReasonMediaMismatch Reason = "MEDIA_MISMATCH"
	ReasonUnknownMedia  Reason = "UNKNOWN_MEDIA"
	ReasonTooLong       Reason = "TOO_LONG"
)

// ValidationError rejects a draft before anything is written.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("posts: invalid draft: %s (%s)", e.Reason, e.Detail)
}

func invalid(r Reason, detail string) *ValidationError {
	return &ValidationError{Reason: r, Detail: detail}
}
