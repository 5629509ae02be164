package ics

import (
	"errors"
	"sort"
	"time"

	appLog "agenda/internal/log"
	"agenda/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// Select returns the occurrences starting in [since, since+horizon].
//
//   - a recurring event contributes at most its next occurrence on or
//     after since, shifted with its duration kept;
//   - a single event is kept when its start is inside the window. Its end
//     is not checked, so an event already in progress at since is left out.
//
// The result is sorted by start, end and UID, with entries sharing start,
// end and summary collapsed. The input events are not modified.
func Select(events []model.Event, since time.Time, horizon time.Duration) []model.Event {
	until := since.Add(horizon)
	out := make([]model.Event, 0)

	for _, ev := range events {
		if !ev.IsRecurring() {
			if inWindow(ev, since, until) {
				out = append(out, ev)
			}
			continue
		}

		next, ok := ev.Recurrence.NextOnOrAfter(since)
		if !ok || next.After(until) {
			continue
		}
		out = append(out, ev.ShiftTo(next))
	}

	return sortUnique(out)
}

// ExpandConfig controls full recurrence expansion.
type ExpandConfig struct {
	// MaxOccurrencesPerEvent caps the occurrences taken from one rule. If
	// zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded occurrences and the UIDs whose rule hit
// the cap.
type ExpandResult struct {
	Occurrences     []model.Event
	TruncatedEvents []string
}

// Expand is Select with every occurrence of each rule inside the window
// instead of only the next one. Window boundaries match Select.
func Expand(events []model.Event, since time.Time, horizon time.Duration, cfg ExpandConfig) ExpandResult {
	var result ExpandResult
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	until := since.Add(horizon)
	out := make([]model.Event, 0)

	for _, ev := range events {
		if !ev.IsRecurring() {
			if inWindow(ev, since, until) {
				out = append(out, ev)
			}
			continue
		}

		starts, truncated := ev.Recurrence.Between(since, until, cfg.MaxOccurrencesPerEvent)
		for _, start := range starts {
			out = append(out, ev.ShiftTo(start))
		}
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", ev.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Occurrences = sortUnique(out)
	return result
}

func inWindow(ev model.Event, since, until time.Time) bool {
	start := ev.Start.Time()
	return !start.Before(since) && !start.After(until)
}

func sortUnique(events []model.Event) []model.Event {
	sort.SliceStable(events, func(i, j int) bool {
		return model.Compare(events[i], events[j]) < 0
	})

	seen := make(map[string]struct{}, len(events))
	out := events[:0]
	for _, ev := range events {
		key := ev.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}
	return out
}
