// Package recur binds an RRULE to its anchor instant and answers "what is the
// next occurrence" with exclusions and added dates applied.
package recur

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"agenda/internal/moment"
)

// ErrMalformedRecurrence is returned when the rule grammar or its anchor
// cannot be read.
var ErrMalformedRecurrence = errors.New("malformed recurrence")

// Recurrence is one RRULE anchored at its event's DTSTART, plus EXDATE and
// RDATE/RECURRENCE-ID instants.
type Recurrence struct {
	text   string
	anchor time.Time
	rule   *rrule.RRule
	set    rrule.Set

	exdates []time.Time
	rdates  []time.Time
}

// New anchors rule at anchor. The anchor's location is the wall clock the
// rule steps in, so DST transitions keep the local time of day.
func New(rule string, anchor time.Time) (*Recurrence, error) {
	text := strings.TrimSpace(rule)
	text = strings.TrimPrefix(text, "RRULE:")
	if text == "" {
		return nil, fmt.Errorf("%w: empty rule", ErrMalformedRecurrence)
	}
	if anchor.IsZero() {
		return nil, fmt.Errorf("%w: missing anchor", ErrMalformedRecurrence)
	}

	opt, err := rrule.StrToROptionInLocation(text, anchor.Location())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedRecurrence, text, err)
	}
	opt.Dtstart = anchor

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedRecurrence, text, err)
	}

	rec := &Recurrence{
		text:   text,
		anchor: anchor,
		rule:   r,
	}
	rec.set.RRule(r)
	return rec, nil
}

// Build reads a DTSTART fragment as written by moment.FormatAnchor and
// anchors rule at it.
func Build(rule, anchor string) (*Recurrence, error) {
	inst, loc, err := moment.ParseAnchor(anchor)
	if err != nil {
		return nil, fmt.Errorf("%w: anchor: %v", ErrMalformedRecurrence, err)
	}
	return New(rule, inst.Time().In(loc))
}

// ExDate removes t from the occurrence set. Matching is by exact instant.
func (r *Recurrence) ExDate(t time.Time) {
	t = t.In(r.anchor.Location())
	r.exdates = append(r.exdates, t)
	r.set.ExDate(t)
}

// RDate adds t to the occurrence set.
func (r *Recurrence) RDate(t time.Time) {
	t = t.In(r.anchor.Location())
	r.rdates = append(r.rdates, t)
	r.set.RDate(t)
}

// NextOnOrAfter returns the first occurrence >= t.
func (r *Recurrence) NextOnOrAfter(t time.Time) (time.Time, bool) {
	return r.next(t, true)
}

// NextAfter returns the first occurrence > t.
func (r *Recurrence) NextAfter(t time.Time) (time.Time, bool) {
	return r.next(t, false)
}

func (r *Recurrence) next(t time.Time, inc bool) (time.Time, bool) {
	occ := r.set.After(t, inc)
	if occ.IsZero() {
		return time.Time{}, false
	}
	return occ, true
}

// Between returns the occurrences in [from, to], stopping after limit
// entries. truncated reports whether more occurrences were left.
func (r *Recurrence) Between(from, to time.Time, limit int) (occ []time.Time, truncated bool) {
	next, ok := r.NextOnOrAfter(from)
	for ok && !next.After(to) {
		if limit > 0 && len(occ) == limit {
			return occ, true
		}
		occ = append(occ, next)
		next, ok = r.NextAfter(next)
	}
	return occ, false
}

func (r *Recurrence) Anchor() time.Time { return r.anchor }
func (r *Recurrence) Rule() string      { return r.text }

func (r *Recurrence) ExDates() []time.Time { return sortedCopy(r.exdates) }
func (r *Recurrence) RDates() []time.Time  { return sortedCopy(r.rdates) }

func sortedCopy(ts []time.Time) []time.Time {
	out := append([]time.Time(nil), ts...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
