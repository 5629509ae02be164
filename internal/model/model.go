package model

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"agenda/internal/moment"
	"agenda/internal/recur"
)

// Event represents one VEVENT after property extraction, or one concrete
// occurrence projected from a recurring template.
//
// A template with a Recurrence is shared read-only once loading is done;
// projection (ShiftTo) always returns a new value.
type Event struct {
	SourceID string // calendar source the event was read from
	UID      string // iCalendar UID, synthesized when the source omits it

	Summary     string
	Location    string
	Description string

	Start moment.Instant
	End   moment.Instant

	Recurrence *recur.Recurrence

	// RecurrenceID is set on override records (RECURRENCE-ID); it names the
	// parent occurrence this record replaces.
	RecurrenceID *moment.Instant
}

// Duration is End - Start. Malformed input can make it zero or negative.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// AllDay reports whether the event should be shown without times.
func (e Event) AllDay() bool {
	return e.Start.IsDate() || e.Duration() == 24*time.Hour
}

// IsRecurring reports whether the event carries a rule.
func (e Event) IsRecurring() bool {
	return e.Recurrence != nil
}

// ShiftTo projects the event onto the occurrence starting at at. The
// original duration is kept; an all-day span moves by whole civil days.
func (e Event) ShiftTo(at time.Time) Event {
	out := e
	if e.Start.IsDate() && e.End.IsDate() {
		days := int(math.Round(e.End.Sub(e.Start).Hours() / 24))
		out.Start = moment.DateOf(at)
		out.End = moment.DateOf(out.Start.Time().AddDate(0, 0, days))
		return out
	}
	if e.Start.IsDate() {
		out.Start = moment.DateOf(at)
	} else {
		out.Start = moment.At(at)
	}
	out.End = moment.At(out.Start.Time().Add(e.Duration()))
	return out
}

// Key identifies an occurrence by start, end and summary. Two entries with
// the same key are duplicates.
func (e Event) Key() string {
	return occurrenceKey(e.Start, e.End, e.Summary)
}

// Compare orders events by start, then end, then UID.
func Compare(a, b Event) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	if c := a.End.Compare(b.End); c != 0 {
		return c
	}
	return strings.Compare(a.UID, b.UID)
}

// SyntheticUID derives a stable identifier for events without UID, so two
// untitled events only collide when start, end and summary all match.
func SyntheticUID(start, end moment.Instant, summary string) string {
	key := occurrenceKey(start, end, summary)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("agenda:"+key)).String() + "@agenda"
}

func occurrenceKey(start, end moment.Instant, summary string) string {
	if summary == "" {
		summary = "<none>"
	}
	return start.String() + "|" + end.String() + "|" + summary
}
