package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSchedule runs a sweep every minute.
const DefaultSweepSchedule = "@every 1m"

// Sweeper removes expired entries and returns how many it removed.
type Sweeper interface {
	Sweep() int
}

// Janitor sweeps a cache on a cron schedule.
type Janitor struct {
	cron   *cron.Cron
	target Sweeper
	logger zerolog.Logger
}

// ParseSchedule accepts a cron expression (5 or 6 fields, or a descriptor
// such as "@every 1m") or a plain duration such as "30s".
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(spec); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule %q as cron expression or duration: %w", spec, err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("schedule duration must be positive, got %s", d)
	}
	return cron.ConstantDelaySchedule{Delay: d}, nil
}

// NewJanitor schedules target.Sweep. An empty spec means DefaultSweepSchedule.
func NewJanitor(target Sweeper, spec string, logger zerolog.Logger) (*Janitor, error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}

	j := &Janitor{
		cron:   cron.New(),
		target: target,
		logger: logger.With().Str("component", "cacheJanitor").Logger(),
	}
	j.cron.Schedule(sched, cron.FuncJob(j.run))
	return j, nil
}

func (j *Janitor) run() {
	if n := j.target.Sweep(); n > 0 {
		j.logger.Debug().Int("evicted", n).Msg("Swept expired cache entries")
	}
}

// Start runs the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule. The returned context is done once a running
// sweep has finished.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}
