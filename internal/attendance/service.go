package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"oncall/internal/audit"
	"oncall/internal/face"
	"oncall/internal/faceclient"
	"oncall/internal/metrics"
)

// LivenessChecker classifies a frame as live or spoofed.
type LivenessChecker interface {
	Liveness(ctx context.Context, image []byte, filename string) (*faceclient.LivenessResult, error)
}

// Identifier resolves the user in a frame, returning face.ErrNoPersonsFound or
// face.ErrUnknownPerson when nobody matches.
type Identifier interface {
	Identify(ctx context.Context, image []byte, filename string) (string, error)
}

// Frame is one uploaded camera image.
type Frame struct {
	Data     []byte
	Filename string
}

// Result describes a recorded check-in or check-out.
type Result struct {
	UserID   string
	FullName string
	Session  Session
	Action   Action
	At       time.Time
}

// Message is the text shown on the kiosk.
func (r Result) Message() string {
	if r.Action == ActionCheckOut {
		return fmt.Sprintf("%s checked out.", r.FullName)
	}
	return fmt.Sprintf("%s checked in.", r.FullName)
}

// Settings tunes the service. Zero values fall back to defaults.
type Settings struct {
	Location *time.Location
	Policy   Policy
	Now      func() time.Time
}

// Service runs the check-in/check-out pipeline for a camera frame.
type Service struct {
	repo     Repository
	liveness LivenessChecker
	ident    Identifier
	audit    audit.Recorder
	loc      *time.Location
	policy   Policy
	now      func() time.Time
	log      *slog.Logger
}

// NewService wires the pipeline. recorder may be nil to disable the audit trail.
func NewService(repo Repository, liveness LivenessChecker, ident Identifier, recorder audit.Recorder, settings Settings, log *slog.Logger) *Service {
	if settings.Location == nil {
		settings.Location = time.Local
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:     repo,
		liveness: liveness,
		ident:    ident,
		audit:    recorder,
		loc:      settings.Location,
		policy:   settings.Policy,
		now:      settings.Now,
		log:      log,
	}
}

// Check verifies liveness, identifies the user and records attendance. Business
// rejections are returned as errors for which IsRejection is true.
func (s *Service) Check(ctx context.Context, frame Frame) (Result, error) {
	res, err := s.check(ctx, frame)
	metrics.Checks.WithLabelValues(outcome(res, err)).Inc()
	return res, err
}

func (s *Service) check(ctx context.Context, frame Frame) (Result, error) {
	live, err := s.liveness.Liveness(ctx, frame.Data, frame.Filename)
	if err != nil {
		return Result{}, fmt.Errorf("liveness: %w", err)
	}
	if !live.Live() {
		s.log.Info("liveness rejected frame", "label", live.Label, "confidence", live.Confidence)
		return Result{}, ErrNotLive
	}

	userID, err := s.ident.Identify(ctx, frame.Data, frame.Filename)
	if err != nil {
		if errors.Is(err, face.ErrNoPersonsFound) || errors.Is(err, face.ErrUnknownPerson) {
			return Result{}, ErrUserNotFound
		}
		return Result{}, fmt.Errorf("recognize: %w", err)
	}

	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("find user %s: %w", userID, err)
	}
	if user == nil {
		s.log.Warn("recognized user has no user record", "user_id", userID)
		return Result{}, ErrUserNotFound
	}

	return s.Record(ctx, *user, s.now())
}

// Record applies the window rules for an already identified user at instant t.
func (s *Service) Record(ctx context.Context, user User, t time.Time) (Result, error) {
	now := t.In(s.loc)
	day := StartOfDay(now)

	window, err := s.repo.FindOpenWindow(ctx, day)
	if err != nil {
		return Result{}, fmt.Errorf("find open window: %w", err)
	}
	if window == nil {
		return Result{}, ErrNoOpenWindow
	}
	dw, err := window.Resolve(day)
	if err != nil {
		return Result{}, fmt.Errorf("open window %s: %w", window.ID, err)
	}

	session := Classify(now, dw, s.policy)
	if session == SessionNone {
		return Result{}, ErrOutsideWindow
	}

	// A failed conditional update means another request changed the record
	// between our read and write; re-read once and decide again.
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := s.repo.FindSchedule(ctx, user.ID, day, session)
		if err != nil {
			return Result{}, fmt.Errorf("find schedule: %w", err)
		}
		if rec == nil {
			return Result{}, ErrNoSchedule
		}

		action, err := Decide(*rec, session, now, dw, s.policy)
		if err != nil {
			return Result{}, err
		}

		var applied bool
		switch action {
		case ActionCheckIn:
			applied, err = s.repo.MarkCheckIn(ctx, rec.ID, now)
		case ActionCheckOut:
			applied, err = s.repo.MarkCheckOut(ctx, rec.ID, now)
		}
		if err != nil {
			return Result{}, fmt.Errorf("%s %s: %w", action, rec.ID, err)
		}
		if !applied {
			s.log.Info("schedule record changed concurrently, retrying", "record_id", rec.ID, "action", action.String())
			continue
		}

		res := Result{UserID: user.ID, FullName: user.FullName, Session: session, Action: action, At: now}
		s.recordAudit(ctx, res)
		s.log.Info("attendance recorded", "user_id", user.ID, "session", session.String(), "action", action.String(), "at", now)
		return res, nil
	}
	return Result{}, ErrConcurrentUpdate
}

func (s *Service) recordAudit(ctx context.Context, res Result) {
	if s.audit == nil {
		return
	}
	entry := audit.Entry{UserID: res.UserID, At: res.At, Session: string(res.Session)}
	if err := s.audit.Record(ctx, entry); err != nil {
		metrics.AuditFailures.Inc()
		s.log.Error("audit record failed", "user_id", res.UserID, "error", err)
	}
}

func outcome(res Result, err error) string {
	if err == nil {
		return res.Action.String()
	}
	var late *LateError
	switch {
	case errors.As(err, &late):
		return "late"
	case errors.Is(err, ErrNotLive):
		return "not_live"
	case errors.Is(err, ErrUserNotFound):
		return "unknown_user"
	case errors.Is(err, ErrNoOpenWindow):
		return "no_window"
	case errors.Is(err, ErrOutsideWindow):
		return "outside_window"
	case errors.Is(err, ErrNoSchedule):
		return "no_schedule"
	case errors.Is(err, ErrConcurrentUpdate):
		return "conflict"
	}
	return "error"
}
