package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinel errors shared by the note store, the platform adapter and the
// interactive controller. Wrap them with fmt.Errorf("...: %w", Err...) and
// test with errors.Is.
var (
	// ErrConflict reports a duplicate note name on insert.
	ErrConflict = stderrors.New("conflict")
	// ErrNotFound reports a missing note, message or member.
	ErrNotFound = stderrors.New("not found")
	// ErrNotOwner reports a delete attempted by someone other than the author.
	ErrNotOwner = stderrors.New("not owner")
	// ErrForbidden reports a platform permission or role hierarchy denial.
	ErrForbidden = stderrors.New("forbidden")
	// ErrTransientIO reports a failed platform call that may succeed later.
	ErrTransientIO = stderrors.New("transient platform failure")
	// ErrDuplicateSession reports a second registration for a live message.
	ErrDuplicateSession = stderrors.New("interactive session already registered")
	// ErrSessionNotFound reports an operation on a message that is not interactive.
	ErrSessionNotFound = stderrors.New("interactive session not found")
	// ErrUnauthorized reports an owner-only action invoked by someone else.
	ErrUnauthorized = stderrors.New("unauthorized")
)

// Is, As and Join re-export the standard helpers so callers importing this
// package under the name "errors" keep them.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

func New(text string) error { return stderrors.New(text) }

// Wrap annotates err with a sentinel so errors.Is matches both.
func Wrap(sentinel error, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel, err)
}

// IsUserFacing reports whether err is an expected outcome that should be shown
// to the user as a short message instead of an internal error notice.
func IsUserFacing(err error) bool {
	switch {
	case Is(err, ErrConflict), Is(err, ErrNotFound), Is(err, ErrNotOwner),
		Is(err, ErrForbidden), Is(err, ErrUnauthorized):
		return true
	default:
		return false
	}
}
