package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"oncall/internal/attendance"
	"oncall/internal/registration"
)

// Memory is a process-local backend implementing both attendance.Repository and
// registration.Store. It is used in development and tests.
type Memory struct {
	mu         sync.Mutex
	seq        int
	users      map[string]attendance.User
	windows    []attendance.OpenWindow
	schedules  map[string]*attendance.ScheduleRecord
	embeddings map[string][]float32
	images     map[string][]registration.Image
}

// NewMemory returns an empty backend.
func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]attendance.User),
		schedules:  make(map[string]*attendance.ScheduleRecord),
		embeddings: make(map[string][]float32),
		images:     make(map[string][]registration.Image),
	}
}

func (m *Memory) nextID(prefix string) string {
	m.seq++
	return prefix + "-" + strconv.Itoa(m.seq)
}

// AddUser creates or renames a user.
func (m *Memory) AddUser(u attendance.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// AddWindow stores w and returns its id.
func (m *Memory) AddWindow(w attendance.OpenWindow) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == "" {
		w.ID = m.nextID("window")
	}
	m.windows = append(m.windows, w)
	return w.ID
}

// AddSchedule stores rec and returns its id.
func (m *Memory) AddSchedule(rec attendance.ScheduleRecord) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = m.nextID("schedule")
	}
	m.schedules[rec.ID] = &rec
	return rec.ID
}

// Schedule returns a copy of the stored record.
func (m *Memory) Schedule(id string) (attendance.ScheduleRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.schedules[id]
	if !ok {
		return attendance.ScheduleRecord{}, false
	}
	return *rec, true
}

func (m *Memory) FindOpenWindow(_ context.Context, day time.Time) (*attendance.OpenWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	date := attendance.CalendarDate(day)
	var best *attendance.OpenWindow
	for i := range m.windows {
		w := m.windows[i]
		if w.StatusID != attendance.OpenStatusID || attendance.CalendarDate(w.StartDay).After(date) || attendance.CalendarDate(w.EndDay).Before(date) {
			continue
		}
		if best == nil || w.StartDay.After(best.StartDay) {
			best = &w
		}
	}
	return best, nil
}

func (m *Memory) FindSchedule(_ context.Context, userID string, day time.Time, s attendance.Session) (*attendance.ScheduleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	date := attendance.CalendarDate(day)
	for _, rec := range m.schedules {
		if rec.UserID != userID || rec.Session != s || !attendance.CalendarDate(rec.Date).Equal(date) {
			continue
		}
		out := *rec
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) MarkCheckIn(_ context.Context, recordID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.schedules[recordID]
	if !ok || rec.Attendance {
		return false, nil
	}
	rec.Attendance = true
	rec.CheckInTime = &at
	return true, nil
}

func (m *Memory) MarkCheckOut(_ context.Context, recordID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.schedules[recordID]
	if !ok || !rec.Attendance {
		return false, nil
	}
	rec.CheckOutTime = &at
	return true, nil
}

func (m *Memory) FindUser(_ context.Context, userID string) (*attendance.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) UserExists(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[userID]
	return ok, nil
}

func (m *Memory) SaveRegistration(_ context.Context, userID string, embedding []float32, img registration.Image, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return registration.ErrUserNotFound
	}
	m.embeddings[userID] = append([]float32(nil), embedding...)
	images := append(m.images[userID], img)
	if keep > 0 && len(images) > keep {
		images = append([]registration.Image(nil), images[len(images)-keep:]...)
	}
	m.images[userID] = images
	return nil
}

func (m *Memory) ListImages(_ context.Context, userID string) ([]registration.Image, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return nil, false, nil
	}
	out := append([]registration.Image(nil), m.images[userID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, true, nil
}

func (m *Memory) Embeddings(context.Context) (map[string][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]float32, len(m.embeddings))
	for id, emb := range m.embeddings {
		out[id] = append([]float32(nil), emb...)
	}
	return out, nil
}
