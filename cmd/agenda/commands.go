package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"agenda/internal/config"
	"agenda/internal/ics"
	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/refresh"
	"agenda/internal/remind"
	"agenda/internal/render"
)

// session is the loaded configuration shared by the commands.
type session struct {
	cfg *config.Config
	loc *time.Location
}

func setup(c *cli.Context) (*session, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	// All-day dates are read as midnight in the display zone.
	time.Local = loc

	appLog.Debug("effective config",
		"config", path,
		"dir", cfg.Dir,
		"timezone", loc.String(),
		"forecast_days", cfg.ForecastDays,
		"remind_minutes", cfg.RemindMinutes,
		"remind_every", cfg.RemindEvery,
		"refresh", cfg.Refresh,
		"expand", cfg.Expand,
		"calendars", len(cfg.Calendars),
	)
	return &session{cfg: cfg, loc: loc}, nil
}

// loadEvents reads every calendar file of the configured directory. Bad
// files and records are logged and skipped.
func (rt *session) loadEvents() ([]model.Event, []error) {
	sources, errs := ics.ReadDir(rt.cfg.Dir)
	events, perrs := ics.LoadEvents(sources)
	errs = append(errs, perrs...)
	for _, err := range errs {
		appLog.Error("calendar skipped", err)
	}
	return events, errs
}

// intArg reads the optional first positional argument.
func intArg(c *cli.Context, def int) (int, error) {
	if c.NArg() == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(c.Args().First())
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("want a positive number, got %q", c.Args().First())
	}
	return n, nil
}

func viewCommand() *cli.Command {
	return &cli.Command{
		Name:      "view",
		Usage:     "Print the upcoming events, one block per day.",
		ArgsUsage: "[days]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "expand", Usage: "list every occurrence of recurring events"},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			days, err := intArg(c, rt.cfg.ForecastDays)
			if err != nil {
				return err
			}

			// Start of today, so events already running today are shown.
			now := time.Now().In(rt.loc)
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, rt.loc)
			horizon := today.AddDate(0, 0, days).Sub(today)

			events, _ := rt.loadEvents()
			var upcoming []model.Event
			if rt.cfg.Expand || c.Bool("expand") {
				upcoming = ics.Expand(events, today, horizon, ics.ExpandConfig{}).Occurrences
			} else {
				upcoming = ics.Select(events, today, horizon)
			}

			return render.New(c.App.Writer, rt.loc).Render(upcoming, today, days)
		},
	}
}

func remindCommand() *cli.Command {
	return &cli.Command{
		Name:      "remind",
		Usage:     "Notify events starting within the next minutes until interrupted.",
		ArgsUsage: "[minutes]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "notify-send", Value: "notify-send", Usage: "notification command"},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			minutes, err := intArg(c, rt.cfg.RemindMinutes)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()
			var wg sync.WaitGroup
			if rt.cfg.Refresh != "" {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := remind.Every(ctx, rt.cfg.Refresh, rt.loc, func(ctx context.Context) {
						_ = rt.refresh(ctx)
					})
					if err != nil {
						appLog.Error("refresh schedule failed", err)
					}
				}()
			}

			appLog.Info("reminders started", "minutes", minutes, "every", rt.cfg.RemindEvery)
			r := remind.New(func() ([]model.Event, []error) {
				return rt.loadEvents()
			}, remind.NotifySend{Path: c.String("notify-send")}, time.Duration(minutes)*time.Minute, rt.loc)
			err = r.Run(ctx, rt.cfg.RemindEvery)
			cancel()
			wg.Wait()
			return err
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Download the configured calendars into the calendar directory.",
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "Updating calendars...")
			if err := rt.refresh(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "Calendars updated.")
			return nil
		},
	}
}

func (rt *session) refresh(ctx context.Context) error {
	cals, err := rt.cfg.ResolveCalendars()
	if err != nil {
		return err
	}
	if len(cals) == 0 {
		appLog.Info("no calendars configured", "dir", rt.cfg.Dir)
		return nil
	}

	targets := make([]refresh.Calendar, 0, len(cals))
	for _, cal := range cals {
		targets = append(targets, refresh.Calendar{
			Name:     cal.Name,
			URL:      cal.URL,
			Username: cal.Username,
			Password: cal.Password,
		})
	}

	r := refresh.New(rt.cfg.Dir,
		refresh.NewHTTPFetcher(nil, rt.cfg.CacheDir),
		refresh.NewCalDAVFetcher(nil),
	)
	_, errs := r.RefreshAll(ctx, targets)
	return errors.Join(errs...)
}
