package ics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "agenda/internal/log"
	"agenda/internal/model"
)

// ErrUnreadable wraps I/O failures while reading calendar files.
var ErrUnreadable = errors.New("calendar file unreadable")

// Source is the content of one calendar file.
type Source struct {
	// ID names the calendar, usually the file name without extension.
	ID   string
	Body []byte
}

// SourceError reports which file, and which event in it when known, failed.
type SourceError struct {
	SourceID string
	UID      string
	Err      error
}

func (e *SourceError) Error() string {
	if e.UID != "" {
		return fmt.Sprintf("calendar %s: event %s: %v", e.SourceID, e.UID, e.Err)
	}
	return fmt.Sprintf("calendar %s: %v", e.SourceID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// ReadDir reads every *.ics file in dir. Files that cannot be read are
// reported and skipped.
func ReadDir(dir string) ([]Source, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("%w: %s: %v", ErrUnreadable, dir, err)}
	}

	var (
		sources []Source
		errs    []error
	)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), ".ics") {
			continue
		}
		body, err := readFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			appLog.Error("calendar read failed", err, "file", name)
			continue
		}
		sources = append(sources, Source{
			ID:   strings.TrimSuffix(name, filepath.Ext(name)),
			Body: body,
		})
	}
	return sources, errs
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	return body, nil
}

// LoadEvents parses every source and then links RECURRENCE-ID records to
// their parents across the whole batch. A failing file or event is
// reported and never drops events already read from other files.
func LoadEvents(sources []Source) ([]model.Event, []error) {
	events := make([]model.Event, 0)
	errs := make([]error, 0)

	for _, src := range sources {
		evs, perrs := ParseCalendar(src)
		events = append(events, evs...)
		errs = append(errs, perrs...)
	}

	linked := Link(events)
	appLog.Debug("ics batch loaded", "sources", len(sources), "events", len(events), "linked_overrides", linked, "errors", len(errs))
	return events, errs
}

// ParseCalendar decodes one calendar body and extracts each VEVENT. A bad
// VEVENT is reported and skipped; the rest of the file is kept.
func ParseCalendar(src Source) ([]model.Event, []error) {
	if len(bytes.TrimSpace(src.Body)) == 0 {
		return nil, []error{&SourceError{SourceID: src.ID, Err: errors.New("empty ICS body")}}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(src.Body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID)
		return nil, []error{&SourceError{SourceID: src.ID, Err: err}}
	}

	events := make([]model.Event, 0)
	var errs []error

	for i, comp := range cal.Events() {
		props := properties(comp)
		ev, perr := Extract(props)
		if perr != nil {
			uid := rawUID(props)
			if uid == "" {
				uid = fmt.Sprintf("#%d", i+1)
			}
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "uid", uid)
			errs = append(errs, &SourceError{SourceID: src.ID, UID: uid, Err: perr})
			continue
		}
		ev.SourceID = src.ID
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, errs
}

// Link attaches each RECURRENCE-ID record to the recurring event with the
// same UID by adding its instant as an extra occurrence. Records without a
// recurring parent stay in the batch as standalone events. It returns the
// number of records linked.
func Link(events []model.Event) int {
	parents := make(map[string]int, len(events))
	for i, ev := range events {
		if ev.RecurrenceID != nil {
			continue
		}
		if j, seen := parents[ev.UID]; seen && events[j].IsRecurring() {
			continue
		}
		parents[ev.UID] = i
	}

	linked := 0
	for _, ev := range events {
		if ev.RecurrenceID == nil {
			continue
		}
		idx, ok := parents[ev.UID]
		if !ok || !events[idx].IsRecurring() {
			appLog.Debug("override kept standalone", "uid", ev.UID, "recurrence_id", ev.RecurrenceID.String())
			continue
		}
		events[idx].Recurrence.RDate(ev.RecurrenceID.Time())
		linked++
	}
	return linked
}

func properties(ve *ical.VEvent) []Property {
	props := make([]Property, 0, len(ve.Properties))
	for _, p := range ve.Properties {
		props = append(props, Property{
			Name:   p.IANAToken,
			Value:  p.Value,
			Params: p.ICalParameters,
		})
	}
	return props
}

func rawUID(props []Property) string {
	for _, p := range props {
		if strings.EqualFold(p.Name, propUID) {
			return strings.TrimSpace(p.Value)
		}
	}
	return ""
}
