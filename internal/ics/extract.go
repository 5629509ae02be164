package ics

import (
	"errors"
	"fmt"
	"strings"

	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/moment"
	"agenda/internal/recur"
)

// ErrMissingProperty marks a VEVENT without DTSTART or DTEND. It is logged,
// not returned: the event keeps the epoch sentinel instead.
var ErrMissingProperty = errors.New("missing required property")

const (
	propUID          = "UID"
	propSummary      = "SUMMARY"
	propLocation     = "LOCATION"
	propDescription  = "DESCRIPTION"
	propDtStart      = "DTSTART"
	propDtEnd        = "DTEND"
	propRRule        = "RRULE"
	propExDate       = "EXDATE"
	propRDate        = "RDATE"
	propRecurrenceID = "RECURRENCE-ID"

	paramTZID = "TZID"
)

// Property is one tokenized VEVENT content line.
type Property struct {
	Name   string
	Value  string
	Params map[string][]string
}

// Param returns the first value of the named parameter, or "".
func (p Property) Param(name string) string {
	for k, vs := range p.Params {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

var textUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";")

// Extract turns one VEVENT's properties into an Event. Unknown properties
// are ignored. The RRULE is bound after the whole list has been read, so
// its anchor is the final DTSTART whatever the property order.
func Extract(props []Property) (model.Event, error) {
	ev := model.Event{
		Start: moment.Epoch(),
		End:   moment.Epoch(),
	}

	var (
		startTZID        string
		hasStart, hasEnd bool
		rule             string
		exdates, rdates  []moment.Instant
	)

	for _, p := range props {
		switch strings.ToUpper(p.Name) {
		case propUID:
			ev.UID = strings.TrimSpace(p.Value)
		case propSummary:
			ev.Summary = textUnescaper.Replace(p.Value)
		case propLocation:
			ev.Location = textUnescaper.Replace(p.Value)
		case propDescription:
			ev.Description = textUnescaper.Replace(p.Value)
		case propDtStart:
			inst, err := moment.Parse(p.Value, p.Param(paramTZID))
			if err != nil {
				return ev, fmt.Errorf("DTSTART: %w", err)
			}
			ev.Start, startTZID, hasStart = inst, p.Param(paramTZID), true
		case propDtEnd:
			inst, err := moment.Parse(p.Value, p.Param(paramTZID))
			if err != nil {
				return ev, fmt.Errorf("DTEND: %w", err)
			}
			ev.End, hasEnd = inst, true
		case propRRule:
			if rule != "" {
				appLog.Debug("ignoring additional RRULE", "uid", ev.UID, "rrule", p.Value)
				continue
			}
			rule = p.Value
		case propExDate:
			insts, err := parseList(p)
			if err != nil {
				return ev, fmt.Errorf("EXDATE: %w", err)
			}
			exdates = append(exdates, insts...)
		case propRDate:
			if strings.EqualFold(p.Param("VALUE"), "PERIOD") {
				appLog.Debug("ignoring RDATE period", "uid", ev.UID, "value", p.Value)
				continue
			}
			insts, err := parseList(p)
			if err != nil {
				return ev, fmt.Errorf("RDATE: %w", err)
			}
			rdates = append(rdates, insts...)
		case propRecurrenceID:
			inst, err := moment.Parse(p.Value, p.Param(paramTZID))
			if err != nil {
				return ev, fmt.Errorf("RECURRENCE-ID: %w", err)
			}
			ev.RecurrenceID = &inst
		}
	}

	if !hasStart {
		appLog.Debug("vevent without DTSTART", "err", ErrMissingProperty, "uid", ev.UID)
	}
	if !hasEnd {
		appLog.Debug("vevent without DTEND", "err", ErrMissingProperty, "uid", ev.UID)
	}
	if ev.UID == "" {
		ev.UID = model.SyntheticUID(ev.Start, ev.End, ev.Summary)
	}

	if rule == "" {
		if len(exdates) > 0 || len(rdates) > 0 {
			appLog.Debug("EXDATE/RDATE without RRULE ignored", "uid", ev.UID)
		}
		return ev, nil
	}

	rec, err := recur.Build(rule, moment.FormatAnchor(ev.Start, startTZID))
	if err != nil {
		return ev, fmt.Errorf("RRULE: %w", err)
	}
	for _, x := range exdates {
		rec.ExDate(x.Time())
	}
	for _, r := range rdates {
		rec.RDate(r.Time())
	}
	ev.Recurrence = rec

	return ev, nil
}

// parseList reads a comma separated DATE / DATE-TIME list with the
// property's own TZID.
func parseList(p Property) ([]moment.Instant, error) {
	tzid := p.Param(paramTZID)
	var out []moment.Instant
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		inst, err := moment.Parse(part, tzid)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}
