package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"radiodigest/internal/config"
	"radiodigest/internal/logging"
	"radiodigest/internal/mailer"
	"radiodigest/internal/notifications"
	"radiodigest/internal/services"
	"radiodigest/internal/stage"
	"radiodigest/internal/store"
)

// Sender handles SEND_DIGEST tasks.
type Sender struct {
	cfg      *config.Config
	store    *store.Store
	mailer   mailer.Sender
	notifier notifications.Service
	logger   *slog.Logger
}

// NewSender constructs the digest delivery handler.
func NewSender(cfg *config.Config, st *store.Store, m mailer.Sender, notifier notifications.Service, logger *slog.Logger) *Sender {
	return &Sender{
		cfg:      cfg,
		store:    st,
		mailer:   m,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "digest-sender"),
	}
}

// HealthCheck reports whether a mail transport is wired.
func (s *Sender) HealthCheck(context.Context) stage.Health {
	if s.mailer == nil {
		return stage.Unhealthy("digest-sender", "mailer not configured")
	}
	return stage.Healthy("digest-sender")
}

// hold is how long a sending claim blocks other senders. It outlasts the task timeout
// plus one lease so a live sender is never overtaken.
func (s *Sender) hold() time.Duration {
	return time.Duration(s.cfg.Workflow.TaskTimeout+s.cfg.Workflow.LeaseTimeout) * time.Second
}

func (s *Sender) window() time.Duration {
	return time.Duration(s.cfg.Digest.SendValidityWindow) * time.Second
}

// Execute takes the send lock for the unit and delivers the digest once.
func (s *Sender) Execute(ctx context.Context, task *store.Task) stage.Outcome {
	unit := task.Unit
	logger := logging.WithContext(ctx, s.logger).With(logging.Args(logging.Unit(unit.Program, unit.Date)...)...)

	program, ok := s.cfg.Program(unit.Program)
	if !ok {
		return stage.Permanent(services.Wrap(services.ErrValidation, "digest", "send", fmt.Sprintf("unknown program %q", unit.Program), nil))
	}

	digest, err := s.store.GetDigest(ctx, unit)
	if err != nil {
		if isNotFound(err) {
			return stage.Permanent(services.Wrap(services.ErrNotFound, "digest", "send", "no digest for "+unit.String(), nil))
		}
		return stage.Transient(err)
	}
	switch digest.Status {
	case store.DigestReady:
	case store.DigestSent:
		logger.Info("digest already sent", logging.String(logging.FieldEventType, "send_skipped"))
		return stage.Skip("digest already sent")
	case store.DigestBuilding:
		return stage.Transient(services.Wrap(services.ErrTransient, "digest", "send", "digest still building", nil))
	default:
		return stage.Permanent(services.Wrap(services.ErrValidation, "digest", "send", fmt.Sprintf("digest is %s", digest.Status), nil))
	}

	claim, err := s.store.ClaimSendLock(ctx, unit, program.Recipients, s.hold())
	if err != nil {
		return stage.Transient(err)
	}
	if !claim.Claimed {
		if claim.Existing != nil && claim.Existing.Status == store.LockSent {
			logger.Info("send claim lost",
				logging.String(logging.FieldEventType, "claim_lost"),
				logging.String("lock_status", string(claim.Existing.Status)),
			)
			return stage.Skip("digest already delivered")
		}
		// Another sender holds the lock, or one died mid-send. Retry once the hold
		// expires so the lock can be taken over if nobody marks it sent.
		var wait time.Duration
		status := "unknown"
		if claim.Existing != nil {
			status = string(claim.Existing.Status)
			wait = time.Until(claim.Existing.ExpiresAt)
		}
		logger.Info("send lock busy",
			logging.String(logging.FieldEventType, "send_lock_busy"),
			logging.String("lock_status", status),
			logging.Duration("retry_after", wait),
		)
		return stage.TransientAfter(
			services.Wrap(services.ErrTransient, "digest", "send", "send lock held ("+status+")", nil),
			wait,
		)
	}

	// Lock bookkeeping outlives the task deadline so an aborted send is released.
	writeCtx := context.WithoutCancel(ctx)
	msg := Render(program, digest)
	if err := s.mailer.Send(ctx, msg); err != nil {
		if markErr := s.store.MarkSendFailed(writeCtx, unit, claim.Token, err.Error()); markErr != nil {
			logger.Warn("mark send failed",
				logging.String(logging.FieldEventType, "send_lock_write_failed"),
				logging.String(logging.FieldImpact, "retry waits for the send hold to expire"),
				logging.Error(markErr),
			)
		}
		logger.Warn("digest delivery failed",
			logging.String(logging.FieldEventType, "send_failed"),
			logging.String(logging.FieldErrorHint, "check smtp settings and server reachability"),
			logging.Error(err),
		)
		return stage.Classify(err)
	}

	if err := s.store.MarkSent(writeCtx, unit, claim.Token, s.window()); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			logger.Warn("send claim lost after delivery",
				logging.String(logging.FieldEventType, "claim_lost"),
				logging.String(logging.FieldImpact, "email delivered but lock owned by another sender"),
			)
			return stage.Skip("send claim lost after delivery")
		}
		// The email went out; a retry would send it again once the hold expires.
		logging.ErrorWithContext(logger, "record digest sent failed", "send_record_failed",
			logging.String(logging.FieldErrorHint, "check the database, then 'radiodigest digest show'"),
			logging.String(logging.FieldImpact, "lock stays in sending until its hold expires"),
			logging.Error(err),
		)
		return stage.Permanent(err)
	}

	logger.Info("digest sent",
		logging.String(logging.FieldEventType, "digest_sent"),
		logging.Int("recipients", len(msg.To)),
	)
	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, notifications.EventDigestSent, notifications.Payload{
			"program":    unit.Program,
			"date":       unit.Date,
			"recipients": len(msg.To),
		}); err != nil {
			logger.Warn("digest sent notification failed",
				logging.String(logging.FieldEventType, "notification_failed"),
				logging.Error(err),
			)
		}
	}
	return stage.Succeed()
}
