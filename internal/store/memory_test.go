package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oncall/internal/attendance"
	"oncall/internal/registration"
)

func TestMemory_ConditionalUpdates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	id := m.AddSchedule(attendance.ScheduleRecord{UserID: "u1", Date: day, Session: attendance.SessionAfternoon})

	ok, err := m.MarkCheckOut(ctx, id, day.Add(14*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = m.MarkCheckIn(ctx, id, day.Add(14*time.Hour))
	assert.True(t, ok)
	ok, _ = m.MarkCheckIn(ctx, id, day.Add(15*time.Hour))
	assert.False(t, ok)

	rec, err := m.FindSchedule(ctx, "u1", day, attendance.SessionAfternoon)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.CheckInTime.Equal(day.Add(14*time.Hour)))

	other, err := m.FindSchedule(ctx, "u1", day.AddDate(0, 0, 1), attendance.SessionAfternoon)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestMemory_FindOpenWindow_PrefersLatestOpen(t *testing.T) {
	m := NewMemory()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	m.AddWindow(attendance.OpenWindow{StartDay: day.AddDate(0, 0, -10), EndDay: day.AddDate(0, 0, 10), StatusID: attendance.OpenStatusID, MorningIn: "07:00"})
	m.AddWindow(attendance.OpenWindow{StartDay: day.AddDate(0, 0, -1), EndDay: day, StatusID: attendance.OpenStatusID, MorningIn: "08:00"})
	m.AddWindow(attendance.OpenWindow{StartDay: day, EndDay: day, StatusID: 2, MorningIn: "09:00"})

	w, err := m.FindOpenWindow(context.Background(), day)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "08:00", w.MorningIn)
}

func TestMemory_SaveRegistration_TrimsOldest(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.AddUser(attendance.User{ID: "u1"})
	base := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		img := registration.Image{Data: []byte{byte(i)}, Timestamp: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, m.SaveRegistration(ctx, "u1", []float32{float32(i)}, img, 5))
	}
	images, found, err := m.ListImages(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, images, 5)
	assert.Equal(t, []byte{6}, images[0].Data)
	assert.Equal(t, []byte{2}, images[4].Data)

	err = m.SaveRegistration(ctx, "ghost", []float32{1}, registration.Image{}, 5)
	assert.ErrorIs(t, err, registration.ErrUserNotFound)
}

func TestMemory_LookupsCompareCalendarDates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	loc := time.FixedZone("UTC+7", 7*3600)
	m.AddWindow(attendance.OpenWindow{
		StartDay: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		EndDay:   time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
		StatusID: attendance.OpenStatusID,
	})
	m.AddSchedule(attendance.ScheduleRecord{UserID: "u1", Date: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Session: attendance.SessionMorning})

	for _, d := range []int{4, 8} {
		w, err := m.FindOpenWindow(ctx, time.Date(2024, 3, d, 0, 0, 0, 0, loc))
		require.NoError(t, err)
		assert.NotNil(t, w, "day %d", d)
	}
	for _, d := range []int{3, 9} {
		w, err := m.FindOpenWindow(ctx, time.Date(2024, 3, d, 0, 0, 0, 0, loc))
		require.NoError(t, err)
		assert.Nil(t, w, "day %d", d)
	}

	rec, err := m.FindSchedule(ctx, "u1", time.Date(2024, 3, 4, 0, 0, 0, 0, loc), attendance.SessionMorning)
	require.NoError(t, err)
	assert.NotNil(t, rec)
	rec, err = m.FindSchedule(ctx, "u1", time.Date(2024, 3, 5, 0, 0, 0, 0, loc), attendance.SessionMorning)
	require.NoError(t, err)
	assert.Nil(t, rec)
}
