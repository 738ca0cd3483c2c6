package attendance

import (
	"context"
	"time"
)

// User is the subset of the externally provisioned user document the service reads.
type User struct {
	ID       string
	FullName string
}

// Repository is the storage the attendance service reads and conditionally updates.
// Finders return (nil, nil) when nothing matches.
type Repository interface {
	// FindOpenWindow returns the open window (status 4) whose [StartDay, EndDay] covers day.
	FindOpenWindow(ctx context.Context, day time.Time) (*OpenWindow, error)

	// FindSchedule returns the user's record dated within [day, day+24h) for the session.
	FindSchedule(ctx context.Context, userID string, day time.Time, s Session) (*ScheduleRecord, error)

	// MarkCheckIn sets attendance=true and checkinTime only if attendance is still false.
	MarkCheckIn(ctx context.Context, recordID string, at time.Time) (bool, error)

	// MarkCheckOut sets checkoutTime only if attendance is already true.
	MarkCheckOut(ctx context.Context, recordID string, at time.Time) (bool, error)

	FindUser(ctx context.Context, userID string) (*User, error)
}
