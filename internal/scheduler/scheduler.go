package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"radiodigest/internal/config"
	"radiodigest/internal/coordination"
	"radiodigest/internal/digest"
	"radiodigest/internal/logging"
	"radiodigest/internal/store"
)

// Checker evaluates a reporting unit and enqueues digest creation when eligible.
type Checker interface {
	Check(ctx context.Context, unit store.Unit, trigger coordination.Trigger) (digest.Evaluation, error)
}

// Sweeper recovers orphaned digest placeholders.
type Sweeper interface {
	Sweep(ctx context.Context) ([]digest.Orphan, error)
	Interval() time.Duration
}

type programSchedule struct {
	key      string
	schedule cron.Schedule
}

// Scheduler drives the time trigger and the orphan sweep.
type Scheduler struct {
	checker  Checker
	sweeper  Sweeper
	sw       *coordination.Switch
	logger   *slog.Logger
	location *time.Location
	interval time.Duration
	lookback int
	programs []programSchedule
	now      func() time.Time
}

// New builds a Scheduler from configuration. Schedules and the time zone are parsed
// once here.
func New(cfg *config.Config, sw *coordination.Switch, checker Checker, sweeper Sweeper, logger *slog.Logger) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("scheduler requires configuration")
	}
	if sw == nil {
		return nil, errors.New("scheduler requires a coordination switch")
	}
	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load scheduler timezone: %w", err)
	}
	programs := make([]programSchedule, 0, len(cfg.Programs))
	for _, program := range cfg.Programs {
		schedule, err := cron.ParseStandard(program.DigestSchedule)
		if err != nil {
			return nil, fmt.Errorf("program %s: parse digest schedule: %w", program.Key, err)
		}
		programs = append(programs, programSchedule{key: program.Key, schedule: schedule})
	}
	interval := time.Duration(cfg.Scheduler.Interval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	lookback := cfg.Scheduler.LookbackDays
	if lookback < 0 {
		lookback = 0
	}
	return &Scheduler{
		checker:  checker,
		sweeper:  sweeper,
		sw:       sw,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		location: location,
		interval: interval,
		lookback: lookback,
		programs: programs,
		now:      time.Now,
	}, nil
}

// DueUnits lists the reporting units whose schedule has fired by now, newest date
// first, limited to today plus the lookback window.
func (s *Scheduler) DueUnits(now time.Time) []store.Unit {
	local := now.In(s.location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	var units []store.Unit
	for _, program := range s.programs {
		for offset := 0; offset <= s.lookback; offset++ {
			dayStart := today.AddDate(0, 0, -offset)
			fire := program.schedule.Next(dayStart.Add(-time.Second))
			if fire.After(local) {
				continue
			}
			units = append(units, store.Unit{Program: program.key, Date: dayStart.Format(store.DateLayout)})
		}
	}
	return units
}

// Tick evaluates every due unit once and returns how many CREATE_DIGEST tasks were
// enqueued. Evaluation errors are logged and joined; one failing unit does not stop
// the others.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if !s.sw.Permits(coordination.TriggerTime) {
		s.logger.Debug("time trigger disabled by authority switch",
			logging.String("authority", string(s.sw.Authority())),
		)
		return 0, nil
	}
	var errs []error
	enqueued := 0
	for _, unit := range s.DueUnits(s.now()) {
		if err := ctx.Err(); err != nil {
			return enqueued, err
		}
		eval, err := s.checker.Check(ctx, unit, coordination.TriggerTime)
		if err != nil {
			attrs := append(logging.Unit(unit.Program, unit.Date),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			logging.WarnWithContext(s.logger, "time trigger evaluation failed", "time_trigger_failed", attrs...)
			errs = append(errs, fmt.Errorf("%s: %w", unit, err))
			continue
		}
		if eval.Enqueued {
			enqueued++
		}
	}
	return enqueued, errors.Join(errs...)
}

// Run blocks until ctx is cancelled, ticking the time trigger at the configured
// interval and sweeping orphans at the sweeper's interval.
func (s *Scheduler) Run(ctx context.Context) error {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	var sweepC <-chan time.Time
	if s.sweeper != nil {
		sweepInterval := s.sweeper.Interval()
		if sweepInterval <= 0 {
			sweepInterval = s.interval
		}
		sweep := time.NewTicker(sweepInterval)
		defer sweep.Stop()
		sweepC = sweep.C
	}

	s.logger.Info("scheduler started",
		logging.String("authority", string(s.sw.Authority())),
		logging.Duration("interval", s.interval),
		logging.Int("programs", len(s.programs)),
		logging.Int("lookback_days", s.lookback),
	)
	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-tick.C:
			s.runTick(ctx)
		case <-sweepC:
			s.runSweep(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	enqueued, err := s.Tick(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("time trigger tick finished with errors", logging.Error(err))
	}
	if enqueued > 0 {
		s.logger.Info("time trigger enqueued digest creation",
			logging.Int("enqueued", enqueued),
			logging.String(logging.FieldDecisionType, "time_trigger"),
			logging.String("decision_result", "enqueued"),
		)
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	orphans, err := s.sweeper.Sweep(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("orphan sweep failed; stale digests may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "orphan_sweep_failed"),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
		}
		return
	}
	if len(orphans) > 0 {
		s.logger.Info("orphan sweep finished", logging.Int("orphans", len(orphans)))
	}
}
