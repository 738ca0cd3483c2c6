package attendance

import (
	"fmt"
	"strings"
	"time"
)

// DefaultCheckInGrace is how long after a session starts a check-in is still accepted.
const DefaultCheckInGrace = 180 * time.Minute

// CheckoutDeadline selects which boundary closes check-out for the afternoon session.
type CheckoutDeadline string

const (
	// CheckoutAtMorningEnd applies morning_end to both sessions.
	CheckoutAtMorningEnd CheckoutDeadline = "morning_end"
	// CheckoutAtSessionEnd applies afternoon_end to the afternoon session.
	CheckoutAtSessionEnd CheckoutDeadline = "session_end"
)

// ParseCheckoutDeadline accepts "morning_end" or "session_end" (also "afternoon_end").
func ParseCheckoutDeadline(s string) (CheckoutDeadline, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(CheckoutAtMorningEnd):
		return CheckoutAtMorningEnd, nil
	case string(CheckoutAtSessionEnd), "afternoon_end":
		return CheckoutAtSessionEnd, nil
	}
	return "", fmt.Errorf("unknown checkout deadline %q", s)
}

// Policy holds the tunable window rules. The zero value keeps the legacy behavior
// except for the grace period, which defaults to DefaultCheckInGrace.
type Policy struct {
	CheckInGrace        time.Duration
	AfternoonUpperBound bool
	CheckoutDeadline    CheckoutDeadline
}

func (p Policy) grace() time.Duration {
	if p.CheckInGrace <= 0 {
		return DefaultCheckInGrace
	}
	return p.CheckInGrace
}

func (p Policy) checkoutDeadline(s Session, w DayWindow) time.Time {
	if s == SessionAfternoon && p.CheckoutDeadline == CheckoutAtSessionEnd {
		return w.AfternoonEnd
	}
	return w.MorningEnd
}

// ScheduleRecord is one user's on-call assignment for a date and session.
type ScheduleRecord struct {
	ID           string
	UserID       string
	Date         time.Time
	Session      Session
	Attendance   bool
	CheckInTime  *time.Time
	CheckOutTime *time.Time
}

// Action is the write a decision asks for.
type Action int

const (
	ActionCheckIn Action = iota + 1
	ActionCheckOut
)

func (a Action) String() string {
	switch a {
	case ActionCheckIn:
		return "check_in"
	case ActionCheckOut:
		return "check_out"
	}
	return "unknown"
}

// Decide runs the per-record state machine: an unattended record may be checked
// in until start+grace, an attended one may be checked out (repeatedly) until the
// checkout deadline.
func Decide(rec ScheduleRecord, s Session, t time.Time, w DayWindow, p Policy) (Action, error) {
	morningNoCheckIn := w.MorningStart.Add(p.grace())
	afternoonNoCheckIn := w.AfternoonStart.Add(p.grace())

	if !rec.Attendance {
		switch {
		case s == SessionMorning && !t.After(morningNoCheckIn):
			return ActionCheckIn, nil
		case s == SessionAfternoon && !t.After(afternoonNoCheckIn):
			return ActionCheckIn, nil
		}
		return 0, lateCheckIn(morningNoCheckIn.Format("15:04"), afternoonNoCheckIn.Format("15:04"))
	}

	deadline := p.checkoutDeadline(s, w)
	// Under the morning_end rule only morning records can be checked out.
	if (s == SessionMorning || p.CheckoutDeadline == CheckoutAtSessionEnd) && t.Before(deadline) {
		return ActionCheckOut, nil
	}
	return 0, lateCheckOut(deadline.Format("15:04"))
}
