package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"agenda/internal/config"
	appLog "agenda/internal/log"
)

const version = "0.1.0"

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	app := &cli.App{
		Name:    "agenda",
		Usage:   "Show, remind and refresh the events of local iCalendar files.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultPath(),
				EnvVars: []string{"AGENDA_CONFIG"},
				Usage:   "path to the YAML config file",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"AGENDA_LOG_LEVEL"},
				Usage:   "debug, info or error (overrides log_level)",
			},
		},
		Commands: []*cli.Command{
			viewCommand(),
			remindCommand(),
			refreshCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		appLog.Error("agenda failed", err)
		os.Exit(1)
	}
}
