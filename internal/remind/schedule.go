package remind

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "agenda/internal/log"
)

// Every runs job on each tick of the cron spec ("*/15 * * * *",
// "@every 2m", ...) until ctx is done, then waits for a running job to
// return. Overlapping ticks are skipped.
func Every(ctx context.Context, spec string, loc *time.Location, job func(context.Context)) error {
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() { job(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	appLog.Debug("schedule started", "spec", spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Debug("schedule stopped", "spec", spec)
	return nil
}
