package attendance

import (
	"fmt"
	"time"
)

// Session is an on-call period within a day. Values match the stored onCallSession codes.
type Session string

const (
	SessionNone      Session = ""
	SessionMorning   Session = "S"
	SessionAfternoon Session = "C"
)

func (s Session) String() string {
	switch s {
	case SessionMorning:
		return "morning"
	case SessionAfternoon:
		return "afternoon"
	default:
		return "none"
	}
}

// OpenStatusID marks an attendance window that accepts check-ins.
const OpenStatusID = 4

// OpenWindow is the active scheduling period with its session boundaries as "HH:MM" strings.
type OpenWindow struct {
	ID           string
	StartDay     time.Time
	EndDay       time.Time
	StatusID     int
	MorningIn    string
	MorningOut   string
	AfternoonIn  string
	AfternoonOut string
}

// DayWindow is an OpenWindow resolved against a concrete day.
type DayWindow struct {
	MorningStart   time.Time
	MorningEnd     time.Time
	AfternoonStart time.Time
	AfternoonEnd   time.Time
}

// Resolve combines the window's clock times with the date of day, in day's location.
func (w OpenWindow) Resolve(day time.Time) (DayWindow, error) {
	var (
		dw  DayWindow
		err error
	)
	if dw.MorningStart, err = atClock(day, w.MorningIn); err != nil {
		return DayWindow{}, fmt.Errorf("time_In_S: %w", err)
	}
	if dw.MorningEnd, err = atClock(day, w.MorningOut); err != nil {
		return DayWindow{}, fmt.Errorf("time_Out_S: %w", err)
	}
	if dw.AfternoonStart, err = atClock(day, w.AfternoonIn); err != nil {
		return DayWindow{}, fmt.Errorf("time_In_C: %w", err)
	}
	if dw.AfternoonEnd, err = atClock(day, w.AfternoonOut); err != nil {
		return DayWindow{}, fmt.Errorf("time_Out_C: %w", err)
	}
	return dw, nil
}

func atClock(day time.Time, hhmm string) (time.Time, error) {
	clock, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, day.Location()), nil
}

// Classify returns the session t falls in. The afternoon session has no end
// unless the policy bounds it by AfternoonEnd.
func Classify(t time.Time, w DayWindow, p Policy) Session {
	if !t.Before(w.MorningStart) && t.Before(w.MorningEnd) {
		return SessionMorning
	}
	if !t.Before(w.AfternoonStart) {
		if p.AfternoonUpperBound && !t.Before(w.AfternoonEnd) {
			return SessionNone
		}
		return SessionAfternoon
	}
	return SessionNone
}

// StartOfDay truncates t to local midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// CalendarDate returns the calendar date of t in its own location as midnight UTC,
// the encoding the scheduling collections use for dates.
func CalendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
