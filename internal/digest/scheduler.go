package digest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/closeout/internal/notify"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DefaultWindow is how far back each digest looks.
const DefaultWindow = 24 * time.Hour

// Scheduler posts a digest on a cron schedule.
type Scheduler struct {
	src      Source
	notifier notify.Notifier
	schedule string
	window   time.Duration
	now      func() time.Time
}

// SchedulerOpts holds parameters for creating a Scheduler.
type SchedulerOpts struct {
	Source   Source
	Notifier notify.Notifier
	Schedule string        // 5-field cron expression
	Window   time.Duration // defaults to DefaultWindow
	Now      func() time.Time
}

// NewScheduler creates a Scheduler. The schedule is validated up front.
func NewScheduler(opts SchedulerOpts) (*Scheduler, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("digest: source is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("digest: notifier is required")
	}
	if _, err := cronParser.Parse(opts.Schedule); err != nil {
		return nil, fmt.Errorf("digest: schedule %q: %w", opts.Schedule, err)
	}
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		src:      opts.Source,
		notifier: opts.Notifier,
		schedule: opts.Schedule,
		window:   window,
		now:      now,
	}, nil
}

// RunOnce builds and posts the digest for the window ending now.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	until := s.now()
	report, err := Build(ctx, s.src, until.Add(-s.window), until)
	if err != nil {
		return err
	}
	if err := s.notifier.Post(ctx, Format(report)); err != nil {
		return fmt.Errorf("digest: post: %w", err)
	}
	log.Printf("digest: posted %d tickets to %s", report.Tickets, s.notifier.Name())
	return nil
}

// Run starts the schedule and blocks until ctx is cancelled, then waits for
// a running digest to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(s.schedule, func() {
		if err := s.RunOnce(ctx); err != nil {
			log.Printf("digest: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("digest: schedule: %w", err)
	}
	c.Start()
	log.Printf("digest: scheduled %q (window %s)", s.schedule, s.window)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Next returns the next fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	sched, err := cronParser.Parse(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t)
}
