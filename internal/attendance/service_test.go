package attendance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oncall/internal/attendance"
	"oncall/internal/audit"
	"oncall/internal/face"
	"oncall/internal/faceclient"
	"oncall/internal/store"
)

var loc = time.FixedZone("UTC+7", 7*3600)

type fakeLiveness struct {
	label int
	err   error
}

func (f fakeLiveness) Liveness(context.Context, []byte, string) (*faceclient.LivenessResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &faceclient.LivenessResult{Label: f.label, Confidence: 0.98}, nil
}

type fakeIdentifier struct {
	userID string
	err    error
}

func (f fakeIdentifier) Identify(context.Context, []byte, string) (string, error) {
	return f.userID, f.err
}

type memRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (r *memRecorder) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

type fixture struct {
	mem        *store.Memory
	recorder   *memRecorder
	scheduleID string
	now        time.Time
}

func clock(hour, min int) time.Time {
	return time.Date(2024, 3, 4, hour, min, 0, 0, loc)
}

func newFixture(t *testing.T, session attendance.Session) *fixture {
	t.Helper()
	mem := store.NewMemory()
	mem.AddUser(attendance.User{ID: "u1", FullName: "Nguyen Van A"})
	mem.AddWindow(attendance.OpenWindow{
		StartDay:     time.Date(2024, 3, 1, 0, 0, 0, 0, loc),
		EndDay:       time.Date(2024, 3, 31, 0, 0, 0, 0, loc),
		StatusID:     attendance.OpenStatusID,
		MorningIn:    "08:00",
		MorningOut:   "12:00",
		AfternoonIn:  "13:30",
		AfternoonOut: "17:30",
	})
	id := mem.AddSchedule(attendance.ScheduleRecord{
		UserID:  "u1",
		Date:    time.Date(2024, 3, 4, 0, 0, 0, 0, loc),
		Session: session,
	})
	return &fixture{mem: mem, recorder: &memRecorder{}, scheduleID: id}
}

func (f *fixture) service(repo attendance.Repository, live fakeLiveness, ident fakeIdentifier) *attendance.Service {
	if repo == nil {
		repo = f.mem
	}
	return attendance.NewService(repo, live, ident, f.recorder, attendance.Settings{
		Location: loc,
		Now:      func() time.Time { return f.now },
	}, nil)
}

func frame() attendance.Frame {
	return attendance.Frame{Data: []byte("jpeg"), Filename: "frame.jpg"}
}

func TestService_Check_CheckInThenCheckOut(t *testing.T) {
	f := newFixture(t, attendance.SessionMorning)
	svc := f.service(nil, fakeLiveness{label: 1}, fakeIdentifier{userID: "u1"})

	f.now = clock(9, 15)
	res, err := svc.Check(context.Background(), frame())
	require.NoError(t, err)
	assert.Equal(t, attendance.ActionCheckIn, res.Action)
	assert.Equal(t, attendance.SessionMorning, res.Session)
	assert.Contains(t, res.Message(), "Nguyen Van A")

	rec, ok := f.mem.Schedule(f.scheduleID)
	require.True(t, ok)
	assert.True(t, rec.Attendance)
	require.NotNil(t, rec.CheckInTime)
	assert.True(t, rec.CheckInTime.Equal(clock(9, 15)))
	assert.Nil(t, rec.CheckOutTime)

	f.now = clock(11, 40)
	res, err = svc.Check(context.Background(), frame())
	require.NoError(t, err)
	assert.Equal(t, attendance.ActionCheckOut, res.Action)
	assert.Equal(t, "Nguyen Van A checked out.", res.Message())

	rec, _ = f.mem.Schedule(f.scheduleID)
	require.NotNil(t, rec.CheckOutTime)
	assert.True(t, rec.CheckOutTime.Equal(clock(11, 40)))

	require.Len(t, f.recorder.entries, 2)
	assert.Equal(t, "u1,2024-03-04 09:15:00.000000,S", f.recorder.entries[0].Line())
}

func TestService_Check_LateCheckIn(t *testing.T) {
	f := newFixture(t, attendance.SessionMorning)
	svc := f.service(nil, fakeLiveness{label: 1}, fakeIdentifier{userID: "u1"})

	f.now = clock(11, 1)
	_, err := svc.Check(context.Background(), frame())
	require.Error(t, err)
	assert.True(t, attendance.IsRejection(err))
	assert.Contains(t, err.Error(), "cannot check in after 11:00")

	rec, _ := f.mem.Schedule(f.scheduleID)
	assert.False(t, rec.Attendance)
	assert.Empty(t, f.recorder.entries)
}

func TestService_Check_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		now   time.Time
		live  fakeLiveness
		ident fakeIdentifier
		want  error
	}{
		{"spoofed frame", clock(9, 0), fakeLiveness{label: 2}, fakeIdentifier{userID: "u1"}, attendance.ErrNotLive},
		{"no face", clock(9, 0), fakeLiveness{label: 1}, fakeIdentifier{err: face.ErrNoPersonsFound}, attendance.ErrUserNotFound},
		{"unknown face", clock(9, 0), fakeLiveness{label: 1}, fakeIdentifier{err: face.ErrUnknownPerson}, attendance.ErrUserNotFound},
		{"matched id without user", clock(9, 0), fakeLiveness{label: 1}, fakeIdentifier{userID: "ghost"}, attendance.ErrUserNotFound},
		{"lunch break", clock(12, 30), fakeLiveness{label: 1}, fakeIdentifier{userID: "u1"}, attendance.ErrOutsideWindow},
		{"no afternoon schedule", clock(14, 0), fakeLiveness{label: 1}, fakeIdentifier{userID: "u1"}, attendance.ErrNoSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, attendance.SessionMorning)
			svc := f.service(nil, tt.live, tt.ident)
			f.now = tt.now

			_, err := svc.Check(context.Background(), frame())
			require.ErrorIs(t, err, tt.want)
			assert.True(t, attendance.IsRejection(err))

			rec, _ := f.mem.Schedule(f.scheduleID)
			assert.False(t, rec.Attendance)
		})
	}
}

func TestService_Check_NoOpenWindow(t *testing.T) {
	f := newFixture(t, attendance.SessionMorning)
	svc := f.service(nil, fakeLiveness{label: 1}, fakeIdentifier{userID: "u1"})

	f.now = time.Date(2024, 4, 2, 9, 0, 0, 0, loc)
	_, err := svc.Check(context.Background(), frame())
	require.ErrorIs(t, err, attendance.ErrNoOpenWindow)
}

func TestService_Check_InfrastructureErrorIsNotRejection(t *testing.T) {
	f := newFixture(t, attendance.SessionMorning)
	svc := f.service(nil, fakeLiveness{err: errors.New("face service down")}, fakeIdentifier{userID: "u1"})

	f.now = clock(9, 0)
	_, err := svc.Check(context.Background(), frame())
	require.Error(t, err)
	assert.False(t, attendance.IsRejection(err))
}

func TestService_Check_AuditFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t, attendance.SessionMorning)
	f.recorder.err = errors.New("disk full")
	svc := f.service(nil, fakeLiveness{label: 1}, fakeIdentifier{userID: "u1"})

	f.now = clock(9, 0)
	res, err := svc.Check(context.Background(), frame())
	require.NoError(t, err)
	assert.Equal(t, attendance.ActionCheckIn, res.Action)
}

// racingRepo lets a competing request win the first conditional update.
type racingRepo struct {
	*store.Memory
	races int
}

func (r *racingRepo) MarkCheckIn(ctx context.Context, id string, at time.Time) (bool, error) {
	if r.races > 0 {
		r.races--
		if _, err := r.Memory.MarkCheckIn(ctx, id, at.Add(-time.Second)); err != nil {
			return false, err
		}
		return false, nil
	}
	return r.Memory.MarkCheckIn(ctx, id, at)
}

func TestService_Record_LostRaceRereadsRecord(t *testing.T) {
	f := newFixture(t, attendance.SessionMorning)
	repo := &racingRepo{Memory: f.mem, races: 1}
	svc := f.service(repo, fakeLiveness{label: 1}, fakeIdentifier{userID: "u1"})

	res, err := svc.Record(context.Background(), attendance.User{ID: "u1", FullName: "Nguyen Van A"}, clock(9, 0))
	require.NoError(t, err)
	assert.Equal(t, attendance.ActionCheckOut, res.Action)

	rec, _ := f.mem.Schedule(f.scheduleID)
	assert.True(t, rec.Attendance)
	require.NotNil(t, rec.CheckOutTime)
}

// staleRepo never applies a conditional update.
type staleRepo struct {
	*store.Memory
}

func (staleRepo) MarkCheckIn(context.Context, string, time.Time) (bool, error) { return false, nil }

func TestService_Record_GivesUpAfterRetry(t *testing.T) {
	f := newFixture(t, attendance.SessionMorning)
	svc := f.service(staleRepo{Memory: f.mem}, fakeLiveness{label: 1}, fakeIdentifier{userID: "u1"})

	_, err := svc.Record(context.Background(), attendance.User{ID: "u1", FullName: "Nguyen Van A"}, clock(9, 0))
	require.ErrorIs(t, err, attendance.ErrConcurrentUpdate)
	assert.Empty(t, f.recorder.entries)
}

func TestService_Record_WindowEdgesStoredAsUTCMidnight(t *testing.T) {
	tests := []struct {
		name string
		day  int
	}{
		{"first day", 4},
		{"last day", 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			user := attendance.User{ID: "u1", FullName: "Nguyen Van A"}
			mem.AddUser(user)
			mem.AddWindow(attendance.OpenWindow{
				StartDay:     time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
				EndDay:       time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
				StatusID:     attendance.OpenStatusID,
				MorningIn:    "08:00",
				MorningOut:   "12:00",
				AfternoonIn:  "13:30",
				AfternoonOut: "17:30",
			})
			id := mem.AddSchedule(attendance.ScheduleRecord{
				UserID:  "u1",
				Date:    time.Date(2024, 3, tt.day, 0, 0, 0, 0, time.UTC),
				Session: attendance.SessionMorning,
			})
			svc := attendance.NewService(mem, fakeLiveness{label: 1}, fakeIdentifier{userID: "u1"}, nil,
				attendance.Settings{Location: loc}, nil)

			res, err := svc.Record(context.Background(), user, time.Date(2024, 3, tt.day, 9, 0, 0, 0, loc))
			require.NoError(t, err)
			assert.Equal(t, attendance.ActionCheckIn, res.Action)
			rec, ok := mem.Schedule(id)
			require.True(t, ok)
			assert.True(t, rec.Attendance)
		})
	}
}
