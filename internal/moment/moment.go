// Package moment holds the comparable time value used across the agenda:
// either a calendar date or an absolute instant.
package moment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	layoutUTC   = "20060102T150405Z"
	layoutLocal = "20060102T150405"
	layoutDate  = "20060102"
)

// ErrMalformedInstant is returned for date/time text that cannot be read,
// including unknown TZID names.
var ErrMalformedInstant = errors.New("malformed instant")

// Kind tells the two Instant variants apart.
type Kind uint8

const (
	KindDateTime Kind = iota
	KindDate
)

// Instant is either a Date (civil midnight in the local zone) or a DateTime
// (absolute instant, stored in UTC). The zero value is the zero DateTime.
type Instant struct {
	kind Kind
	t    time.Time
}

// At returns a DateTime instant.
func At(t time.Time) Instant {
	return Instant{kind: KindDateTime, t: t.UTC()}
}

// DateOf returns the Date containing t, as seen in the local zone.
func DateOf(t time.Time) Instant {
	y, m, d := t.In(time.Local).Date()
	return Instant{kind: KindDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.Local)}
}

// Epoch is the sentinel used for events missing DTSTART or DTEND.
func Epoch() Instant {
	return At(time.Unix(0, 0))
}

func (i Instant) IsDate() bool    { return i.kind == KindDate }
func (i Instant) IsZero() bool    { return i.t.IsZero() }
func (i Instant) Time() time.Time { return i.t }

// Compare orders by instant; a Date counts as its midnight. A Date sorts
// before a DateTime at the very same instant so the order stays total.
func (i Instant) Compare(o Instant) int {
	if c := i.t.Compare(o.t); c != 0 {
		return c
	}
	switch {
	case i.kind == o.kind:
		return 0
	case i.kind == KindDate:
		return -1
	default:
		return 1
	}
}

func (i Instant) Before(o Instant) bool { return i.Compare(o) < 0 }
func (i Instant) After(o Instant) bool  { return i.Compare(o) > 0 }

// Equal reports whether both the variant and the instant match.
func (i Instant) Equal(o Instant) bool {
	return i.kind == o.kind && i.t.Equal(o.t)
}

// Sub returns i - o as a duration.
func (i Instant) Sub(o Instant) time.Duration {
	return i.t.Sub(o.t)
}

func (i Instant) String() string {
	if i.kind == KindDate {
		return i.t.Format(layoutDate)
	}
	return i.t.UTC().Format(layoutUTC)
}

// Parse reads an iCalendar DATE or DATE-TIME value.
//
//   - a trailing Z is always UTC, whatever tzid says;
//   - a value with a T separator is wall-clock time in tzid (UTC when empty);
//   - an 8-digit value is a Date in the local zone.
func Parse(text, tzid string) (Instant, error) {
	v := strings.TrimSpace(text)
	if v == "" {
		return Instant{}, fmt.Errorf("%w: empty value", ErrMalformedInstant)
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(layoutUTC, v)
		if err != nil {
			return Instant{}, fmt.Errorf("%w: %q: %v", ErrMalformedInstant, v, err)
		}
		return At(t), nil
	}

	if strings.Contains(v, "T") {
		loc, err := LoadZone(tzid)
		if err != nil {
			return Instant{}, err
		}
		t, err := time.ParseInLocation(layoutLocal, v, loc)
		if err != nil {
			return Instant{}, fmt.Errorf("%w: %q: %v", ErrMalformedInstant, v, err)
		}
		return At(t), nil
	}

	if len(v) != len(layoutDate) || !allDigits(v) {
		return Instant{}, fmt.Errorf("%w: %q is neither a date nor a date-time", ErrMalformedInstant, v)
	}
	t, err := time.ParseInLocation(layoutDate, v, time.Local)
	if err != nil {
		return Instant{}, fmt.Errorf("%w: %q: %v", ErrMalformedInstant, v, err)
	}
	return Instant{kind: KindDate, t: t}, nil
}

// LoadZone resolves a TZID parameter. An empty name is UTC.
func LoadZone(tzid string) (*time.Location, error) {
	name := cleanZone(tzid)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrMalformedInstant, name)
	}
	return loc, nil
}

// FormatAnchor renders the DTSTART fragment that anchors a recurrence rule:
// ":YYYYMMDDTHHMMSSZ" without a zone, ";TZID=<zone>:YYYYMMDDTHHMMSS" with
// one and ";VALUE=DATE:YYYYMMDD" for a Date.
func FormatAnchor(i Instant, tzid string) string {
	if i.IsDate() {
		return ";VALUE=DATE:" + i.t.Format(layoutDate)
	}
	name := cleanZone(tzid)
	if name == "" {
		return ":" + i.t.UTC().Format(layoutUTC)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return ":" + i.t.UTC().Format(layoutUTC)
	}
	return ";TZID=" + name + ":" + i.t.In(loc).Format(layoutLocal)
}

// ParseAnchor is the inverse of FormatAnchor. Besides the instant it returns
// the location whose wall clock the rule should step in.
func ParseAnchor(fragment string) (Instant, *time.Location, error) {
	f := strings.TrimSpace(fragment)
	f = strings.TrimPrefix(f, "DTSTART")
	if f == "" {
		return Instant{}, nil, fmt.Errorf("%w: empty anchor", ErrMalformedInstant)
	}

	switch f[0] {
	case ':':
		inst, err := Parse(f[1:], "")
		if err != nil {
			return Instant{}, nil, err
		}
		if inst.IsDate() {
			return inst, time.Local, nil
		}
		return inst, time.UTC, nil
	case ';':
		params, value, ok := strings.Cut(f[1:], ":")
		if !ok {
			return Instant{}, nil, fmt.Errorf("%w: anchor %q has no value", ErrMalformedInstant, fragment)
		}
		var tzid string
		isDate := false
		for _, p := range strings.Split(params, ";") {
			name, val, _ := strings.Cut(p, "=")
			switch strings.ToUpper(name) {
			case "TZID":
				tzid = val
			case "VALUE":
				isDate = strings.EqualFold(val, "DATE")
			}
		}
		inst, err := Parse(value, tzid)
		if err != nil {
			return Instant{}, nil, err
		}
		if isDate != inst.IsDate() {
			return Instant{}, nil, fmt.Errorf("%w: anchor %q value type mismatch", ErrMalformedInstant, fragment)
		}
		if inst.IsDate() {
			return inst, time.Local, nil
		}
		loc, err := LoadZone(tzid)
		if err != nil {
			return Instant{}, nil, err
		}
		return inst, loc, nil
	default:
		return Instant{}, nil, fmt.Errorf("%w: anchor %q must start with ':' or ';'", ErrMalformedInstant, fragment)
	}
}

func cleanZone(tzid string) string {
	return strings.Trim(strings.TrimSpace(tzid), `"`)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
