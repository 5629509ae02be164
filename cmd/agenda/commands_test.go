package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func testApp(out *bytes.Buffer) *cli.App {
	return &cli.App{
		Name:     "agenda",
		Writer:   out,
		Flags:    []cli.Flag{&cli.StringFlag{Name: "config"}, &cli.StringFlag{Name: "log-level"}},
		Commands: []*cli.Command{viewCommand(), remindCommand(), refreshCommand()},
	}
}

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("dir: %s\ntimezone: UTC\nlog_level: error\n%s", dir, extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestViewCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	ics := fmt.Sprintf(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//agenda//EN
BEGIN:VEVENT
UID:tomorrow@example.com
SUMMARY:Dentist
DTSTART:%s
DTEND:%s
END:VEVENT
END:VCALENDAR
`, start.Format("20060102T150405Z"), start.Add(time.Hour).Format("20060102T150405Z"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "home.ics"), []byte(ics), 0o600))

	var out bytes.Buffer
	require.NoError(t, testApp(&out).RunContext(context.Background(), []string{"agenda", "--config", path, "view", "3"}))

	text := out.String()
	assert.Contains(t, text, "Today")
	assert.Contains(t, text, "Tomorrow")
	assert.Contains(t, text, "2 days")
	assert.Contains(t, text, "Dentist")
	assert.Contains(t, text, start.Format("15:04"))
}

func TestViewCommandRejectsBadDays(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	var out bytes.Buffer
	err := testApp(&out).RunContext(context.Background(), []string{"agenda", "--config", path, "view", "soon"})
	assert.Error(t, err)
}

func TestRefreshCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := writeConfig(t, dir, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calendars"), []byte("work;"+srv.URL+"/w.ics\n"), 0o600))

	var out bytes.Buffer
	require.NoError(t, testApp(&out).RunContext(context.Background(), []string{"agenda", "--config", path, "refresh"}))
	assert.Contains(t, out.String(), "Calendars updated.")

	body, err := os.ReadFile(filepath.Join(dir, "work.ics"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "BEGIN:VCALENDAR")
}

func TestSetupRejectsBadTimezone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timezone: Nowhere/Special\n"), 0o600))

	var out bytes.Buffer
	err := testApp(&out).RunContext(context.Background(), []string{"agenda", "--config", path, "view"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nowhere/Special")
}
