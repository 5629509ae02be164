package remind

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenda/internal/model"
	"agenda/internal/moment"
	"agenda/internal/recur"
)

type note struct{ title, body string }

type recorder struct {
	mu    sync.Mutex
	notes []note
	err   error
}

func (r *recorder) Notify(_ context.Context, title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.notes = append(r.notes, note{title, body})
	return nil
}

func fixed(events ...model.Event) LoadFunc {
	return func() ([]model.Event, []error) { return events, nil }
}

func event(uid, summary string, start time.Time) model.Event {
	return model.Event{
		UID:     uid,
		Summary: summary,
		Start:   moment.At(start),
		End:     moment.At(start.Add(30 * time.Minute)),
	}
}

func TestCheckNotifiesOnce(t *testing.T) {
	now := time.Date(2024, 1, 10, 8, 55, 0, 0, time.UTC)
	rec := &recorder{}
	r := New(fixed(
		event("a", "Standup", now.Add(5*time.Minute)),
		event("b", "", now.Add(8*time.Minute)),
		event("c", "Later", now.Add(time.Hour)),
	), rec, 10*time.Minute, time.UTC)
	r.now = func() time.Time { return now }

	sent, err := r.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []note{{"09:00", "Standup"}, {"09:03", "<none>"}}, rec.notes)

	sent, err = r.Check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Len(t, rec.notes, 2)
}

func TestCheckEachOccurrence(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	ev := event("daily", "Daily", start)
	rule, err := recur.New("FREQ=DAILY", start)
	require.NoError(t, err)
	ev.Recurrence = rule

	rec := &recorder{}
	r := New(fixed(ev), rec, 10*time.Minute, time.UTC)

	r.now = func() time.Time { return start.Add(-5 * time.Minute) }
	_, err = r.Check(context.Background())
	require.NoError(t, err)

	r.now = func() time.Time { return start.AddDate(0, 0, 1).Add(-5 * time.Minute) }
	_, err = r.Check(context.Background())
	require.NoError(t, err)

	assert.Len(t, rec.notes, 2, "a new occurrence is a new reminder")
}

func TestCheckRetriesFailedNotification(t *testing.T) {
	now := time.Date(2024, 1, 10, 8, 55, 0, 0, time.UTC)
	rec := &recorder{err: errors.New("no display")}
	r := New(fixed(event("a", "Standup", now.Add(time.Minute))), rec, 10*time.Minute, time.UTC)
	r.now = func() time.Time { return now }

	_, err := r.Check(context.Background())
	require.Error(t, err)

	rec.err = nil
	sent, err := r.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestCheckUsesLocation(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	rec := &recorder{}
	r := New(fixed(event("a", "Lunch", now.Add(3*time.Minute))), rec, 10*time.Minute, seoul)
	r.now = func() time.Time { return now }

	_, err = r.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.notes, 1)
	assert.Equal(t, "09:03", rec.notes[0].title)
}

func TestEveryStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Every(ctx, "@every 1h", time.UTC, func(context.Context) {}) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Every did not return after cancel")
	}
}

func TestEveryRejectsBadSpec(t *testing.T) {
	err := Every(context.Background(), "every now and then", time.UTC, func(context.Context) {})
	assert.Error(t, err)
}
