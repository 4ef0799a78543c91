package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"radiodigest/internal/config"
	"radiodigest/internal/logging"
	"radiodigest/internal/notifications"
	"radiodigest/internal/store"
)

// Sweep actions recorded for each orphan.
const (
	ActionRebuild = "rebuild"
	ActionFail    = "fail"
	ActionSkipped = "skipped"
)

// Orphan describes one stale building digest found by a sweep.
type Orphan struct {
	Unit      store.Unit
	ClaimedAt time.Time
	Rebuilds  int
	Action    string
}

// Sweeper recovers digests whose builder disappeared.
type Sweeper struct {
	cfg      *config.Config
	store    *store.Store
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper constructs a Sweeper.
func NewSweeper(cfg *config.Config, st *store.Store, notifier notifications.Service, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "digest-sweeper"),
		now:      time.Now,
	}
}

// Interval returns the configured sweep cadence.
func (s *Sweeper) Interval() time.Duration {
	return time.Duration(s.cfg.Digest.SweepInterval) * time.Second
}

// Sweep finds building digests older than the orphan age. Each one is handed to a
// fresh CREATE_DIGEST execution while rebuilds remain, otherwise marked failed. The
// handoff is a compare-and-swap on the old token, so a builder that finishes during
// the sweep keeps its digest.
func (s *Sweeper) Sweep(ctx context.Context) ([]Orphan, error) {
	cutoff := s.now().Add(-time.Duration(s.cfg.Digest.OrphanAge) * time.Second)
	stale, err := s.store.OrphanedDigests(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	orphans := make([]Orphan, 0, len(stale))
	for _, digest := range stale {
		orphan := Orphan{Unit: digest.Unit, ClaimedAt: digest.ClaimedAt, Rebuilds: digest.Rebuilds}
		logger := s.logger.With(logging.Args(logging.Unit(digest.Unit.Program, digest.Unit.Date)...)...)

		if digest.Rebuilds >= s.cfg.Digest.MaxRebuilds {
			message := fmt.Sprintf("orphaned after %d rebuild(s)", digest.Rebuilds)
			failed, err := s.store.FailDigest(ctx, digest.Unit, digest.ClaimToken, message)
			if err != nil {
				return orphans, err
			}
			orphan.Action = ActionFail
			if !failed {
				orphan.Action = ActionSkipped
			}
		} else {
			token, err := s.store.HandOffDigest(ctx, digest.Unit, digest.ClaimToken, store.TaskSpec{})
			if err != nil {
				return orphans, err
			}
			orphan.Action = ActionRebuild
			if token == "" {
				orphan.Action = ActionSkipped
			}
		}

		if orphan.Action == ActionSkipped {
			logger.Info("orphan resolved before sweep", logging.String(logging.FieldEventType, "claim_lost"))
			orphans = append(orphans, orphan)
			continue
		}
		logging.WarnWithContext(logger, "orphaned digest detected", "digest_orphaned",
			logging.String("action", orphan.Action),
			logging.Int("rebuilds", digest.Rebuilds),
			logging.Time("claimed_at", digest.ClaimedAt),
			logging.String(logging.FieldImpact, "digest delivery delayed"),
		)
		s.notify(ctx, logger, orphan)
		orphans = append(orphans, orphan)
	}
	return orphans, nil
}

// Retry resets a failed digest and enqueues a new build. It returns false when the
// unit has no failed digest.
func (s *Sweeper) Retry(ctx context.Context, unit store.Unit) (bool, error) {
	reset, err := s.store.ResetFailedDigest(ctx, unit, store.TaskSpec{})
	if err != nil {
		return false, err
	}
	if reset {
		s.logger.Info("failed digest reset",
			logging.Args(append(logging.Unit(unit.Program, unit.Date), logging.String(logging.FieldEventType, "digest_retry"))...)...)
	}
	return reset, nil
}

func (s *Sweeper) notify(ctx context.Context, logger *slog.Logger, orphan Orphan) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Publish(ctx, notifications.EventDigestOrphaned, notifications.Payload{
		"program":   orphan.Unit.Program,
		"date":      orphan.Unit.Date,
		"claimedAt": orphan.ClaimedAt.Format(time.RFC3339),
		"action":    orphan.Action,
	})
	if err != nil {
		logger.Warn("orphan notification failed",
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.Error(err),
		)
	}
}
