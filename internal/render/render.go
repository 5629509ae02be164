// Package render prints the agenda view: one block per day with its events.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"agenda/internal/model"
)

// palette colors summaries by calendar, in order of first appearance.
var palette = []lipgloss.Color{"#5FAFFF", "#FF87AF", "#AFD75F", "#FFAF5F", "#AF87FF", "#5FD7D7"}

type styles struct {
	date    lipgloss.Style
	when    lipgloss.Style
	summary lipgloss.Style
	desc    lipgloss.Style
}

// Agenda writes a view with styles matched to the color support of w.
type Agenda struct {
	w      io.Writer
	loc    *time.Location
	st     styles
	colors map[string]lipgloss.Color
}

// New returns an Agenda writing to w, grouping days in loc.
func New(w io.Writer, loc *time.Location) *Agenda {
	if loc == nil {
		loc = time.Local
	}
	r := lipgloss.NewRenderer(w)
	return &Agenda{
		w:   w,
		loc: loc,
		st: styles{
			date:    r.NewStyle().Background(lipgloss.Color("#2422BA")).Foreground(lipgloss.Color("#FFFFFF")).Bold(true).TabWidth(lipgloss.NoTabConversion),
			when:    r.NewStyle().Foreground(lipgloss.Color("#5FD75F")),
			summary: r.NewStyle().Underline(true),
			desc:    r.NewStyle().Foreground(lipgloss.Color("#BFBED4")),
		},
		colors: make(map[string]lipgloss.Color),
	}
}

// Render prints days consecutive days starting with the day of start.
// Events are expected sorted; they are placed on the local day they start.
func (a *Agenda) Render(events []model.Event, start time.Time, days int) error {
	byDay := make(map[string][]model.Event)
	for _, ev := range events {
		key := dayKey(ev.Start.Time().In(a.loc))
		byDay[key] = append(byDay[key], ev)
	}

	first := start.In(a.loc)
	var b strings.Builder
	for i := 0; i < days; i++ {
		day := first.AddDate(0, 0, i)
		b.WriteString(a.st.date.Render(DayHeader(day, i)))
		b.WriteString("\n")

		evs := byDay[dayKey(day)]
		if len(evs) == 0 {
			b.WriteString("No events\n\n")
			continue
		}
		for _, ev := range evs {
			a.event(&b, ev)
		}
	}

	_, err := io.WriteString(a.w, b.String())
	return err
}

func (a *Agenda) event(b *strings.Builder, ev model.Event) {
	b.WriteString(a.st.when.Render(a.When(ev)))
	b.WriteString("\n")
	if ev.Summary != "" {
		b.WriteString(a.summaryStyle(ev.SourceID).Render(ev.Summary))
		b.WriteString("\n")
	}
	if ev.Location != "" {
		b.WriteString(ev.Location)
		b.WriteString("\n")
	}
	if ev.Description != "" {
		b.WriteString(a.st.desc.Render(ev.Description))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func (a *Agenda) summaryStyle(source string) lipgloss.Style {
	c, ok := a.colors[source]
	if !ok {
		c = palette[len(a.colors)%len(palette)]
		a.colors[source] = c
	}
	return a.st.summary.Foreground(c)
}

// When formats the time line of an event: "All Day", or "HH:MM - HH:MM"
// with the end date spelled out when the event ends on another day.
func (a *Agenda) When(ev model.Event) string {
	if ev.AllDay() {
		return "All Day"
	}
	start := ev.Start.Time().In(a.loc)
	end := ev.End.Time().In(a.loc)
	layout := "15:04"
	if dayKey(start) != dayKey(end) {
		layout = "Mon Jan _2 15:04"
	}
	return fmt.Sprintf("%s - %s", start.Format("15:04"), end.Format(layout))
}

// DayHeader labels the day offset days from today.
func DayHeader(day time.Time, offset int) string {
	label := fmt.Sprintf("%d days", offset)
	switch offset {
	case 0:
		label = "Today"
	case 1:
		label = "Tomorrow"
	}
	return day.Format("Mon Jan _2") + "\t" + label
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
