package attendance

import (
	"errors"
	"fmt"
)

// Rejections returned to the camera client as {status: error}.
var (
	ErrNotLive          = errors.New("recognition failed, try again")
	ErrUserNotFound     = errors.New("user not found")
	ErrNoOpenWindow     = errors.New("no schedule information found")
	ErrOutsideWindow    = errors.New("not within a valid on-duty window")
	ErrNoSchedule       = errors.New("no on-call schedule found")
	ErrConcurrentUpdate = errors.New("attendance is being recorded by another request, try again")
)

// LateError is returned when a check-in or check-out deadline has passed.
type LateError struct {
	CheckOut bool
	msg      string
}

func (e *LateError) Error() string { return e.msg }

func lateCheckIn(morningDeadline, afternoonDeadline string) error {
	return &LateError{msg: fmt.Sprintf("cannot check in after %s (morning) or %s (afternoon)", morningDeadline, afternoonDeadline)}
}

func lateCheckOut(deadline string) error {
	return &LateError{CheckOut: true, msg: fmt.Sprintf("cannot check out after %s", deadline)}
}

// IsRejection reports whether err is a business outcome rather than an infrastructure failure.
func IsRejection(err error) bool {
	var late *LateError
	if errors.As(err, &late) {
		return true
	}
	for _, target := range []error{ErrNotLive, ErrUserNotFound, ErrNoOpenWindow, ErrOutsideWindow, ErrNoSchedule, ErrConcurrentUpdate} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
