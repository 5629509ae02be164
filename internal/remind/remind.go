// Package remind sends a desktop notification for each event occurrence
// shortly before it starts.
package remind

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"agenda/internal/ics"
	appLog "agenda/internal/log"
	"agenda/internal/model"
)

const noSummary = "<none>"

// Notifier shows one notification.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// NotifySend shows notifications through the notify-send command.
type NotifySend struct {
	// Path defaults to "notify-send" looked up in PATH.
	Path string
}

func (n NotifySend) Notify(ctx context.Context, title, body string) error {
	path := n.Path
	if path == "" {
		path = "notify-send"
	}
	out, err := exec.CommandContext(ctx, path, title, body).CombinedOutput()
	if err != nil {
		return fmt.Errorf("notify-send: %w: %s", err, out)
	}
	return nil
}

// LoadFunc returns the current events. It is called on every check so
// refreshed calendar files are picked up.
type LoadFunc func() ([]model.Event, []error)

// Reminder notifies each occurrence starting within Before of now, once
// for the lifetime of the Reminder.
type Reminder struct {
	load     LoadFunc
	notifier Notifier
	before   time.Duration
	loc      *time.Location
	now      func() time.Time

	mu       sync.Mutex
	reminded map[string]struct{}
}

func New(load LoadFunc, notifier Notifier, before time.Duration, loc *time.Location) *Reminder {
	if loc == nil {
		loc = time.Local
	}
	return &Reminder{
		load:     load,
		notifier: notifier,
		before:   before,
		loc:      loc,
		now:      time.Now,
		reminded: make(map[string]struct{}),
	}
}

// Check notifies the occurrences not reminded yet and returns how many
// were sent. A failed notification is retried on the next check.
func (r *Reminder) Check(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, errs := r.load()
	for _, err := range errs {
		appLog.Debug("reminder load issue", "err", err)
	}

	sent := 0
	for _, ev := range ics.Select(events, r.now(), r.before) {
		key := ev.Key()
		if _, done := r.reminded[key]; done {
			continue
		}

		title := ev.Start.Time().In(r.loc).Format("15:04")
		summary := ev.Summary
		if summary == "" {
			summary = noSummary
		}
		if err := r.notifier.Notify(ctx, title, summary); err != nil {
			return sent, err
		}
		r.reminded[key] = struct{}{}
		sent++
		appLog.Info("reminder sent", "uid", ev.UID, "start", title, "summary", summary)
	}
	return sent, nil
}

// Run checks once, then on every tick of spec until ctx is done.
func (r *Reminder) Run(ctx context.Context, spec string) error {
	check := func(ctx context.Context) {
		if _, err := r.Check(ctx); err != nil {
			appLog.Error("reminder check failed", err)
		}
	}
	check(ctx)
	return Every(ctx, spec, r.loc, check)
}
