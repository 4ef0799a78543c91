package digest

import (
	"context"
	"fmt"
	"log/slog"

	"radiodigest/internal/config"
	"radiodigest/internal/coordination"
	"radiodigest/internal/logging"
	"radiodigest/internal/services"
	"radiodigest/internal/store"
)

// Evaluation is the result of checking a reporting unit for digest eligibility.
type Evaluation struct {
	Unit      store.Unit
	Trigger   coordination.Trigger
	Permitted bool
	Expected  int
	Total     int
	Completed int
	Eligible  bool
	// Enqueued is true when this check inserted a CREATE_DIGEST task.
	Enqueued bool
	// Reason explains a deferral or a skipped enqueue.
	Reason string
}

// Detector evaluates reporting units and enqueues digest creation.
type Detector struct {
	cfg    *config.Config
	store  *store.Store
	sw     *coordination.Switch
	logger *slog.Logger
}

// NewDetector constructs a Detector.
func NewDetector(cfg *config.Config, st *store.Store, sw *coordination.Switch, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		store:  st,
		sw:     sw,
		logger: logging.NewComponentLogger(logger, "digest-detector"),
	}
}

// Evaluate counts the blocks of unit against the program's configured block list.
// A unit is eligible only when every expected block exists and every block is completed.
func (d *Detector) Evaluate(ctx context.Context, unit store.Unit) (Evaluation, error) {
	eval := Evaluation{Unit: unit, Permitted: true}
	program, ok := d.cfg.Program(unit.Program)
	if !ok {
		return eval, services.Wrap(services.ErrValidation, "digest", "evaluate", fmt.Sprintf("unknown program %q", unit.Program), nil)
	}
	if _, err := store.ParseDate(unit.Date); err != nil {
		return eval, services.Wrap(services.ErrValidation, "digest", "evaluate", "", err)
	}
	total, completed, err := d.store.UnitCounts(ctx, unit)
	if err != nil {
		return eval, err
	}
	eval.Expected = program.ExpectedBlocks()
	eval.Total = total
	eval.Completed = completed
	eval.Eligible = total == eval.Expected && completed == total
	switch {
	case eval.Eligible:
	case total < eval.Expected:
		eval.Reason = fmt.Sprintf("%d of %d blocks registered", total, eval.Expected)
	case total > eval.Expected:
		eval.Reason = fmt.Sprintf("%d blocks registered, %d expected", total, eval.Expected)
	default:
		eval.Reason = fmt.Sprintf("%d of %d blocks completed", completed, total)
	}
	return eval, nil
}

// Check evaluates unit on behalf of trigger and enqueues CREATE_DIGEST when the unit is
// eligible and no digest or pending creation task exists yet. The existence checks are
// advisory; the digest claim decides ownership.
func (d *Detector) Check(ctx context.Context, unit store.Unit, trigger coordination.Trigger) (Evaluation, error) {
	logger := logging.WithContext(ctx, d.logger).With(logging.Args(logging.Unit(unit.Program, unit.Date)...)...)
	if !d.sw.Permits(trigger) {
		logger.Debug("digest trigger not authoritative",
			logging.String(logging.FieldDecisionType, "digest_trigger"),
			logging.String("trigger", string(trigger)),
			logging.String("authority", string(d.sw.Authority())),
		)
		return Evaluation{Unit: unit, Trigger: trigger, Reason: "trigger not authoritative"}, nil
	}

	eval, err := d.Evaluate(ctx, unit)
	eval.Trigger = trigger
	if err != nil {
		return eval, err
	}
	if !eval.Eligible {
		logger.Debug("digest deferred",
			logging.String(logging.FieldDecisionType, "digest_eligibility"),
			logging.String("trigger", string(trigger)),
			logging.String("reason", eval.Reason),
		)
		return eval, nil
	}

	if existing, err := d.store.GetDigest(ctx, unit); err == nil {
		eval.Reason = fmt.Sprintf("digest already %s", existing.Status)
		logger.Debug("digest enqueue skipped", logging.String("reason", eval.Reason))
		return eval, nil
	} else if !isNotFound(err) {
		return eval, err
	}
	active, err := d.store.HasActiveTask(ctx, store.TaskCreateDigest, unit)
	if err != nil {
		return eval, err
	}
	if active {
		eval.Reason = "digest creation already queued"
		logger.Debug("digest enqueue skipped", logging.String("reason", eval.Reason))
		return eval, nil
	}

	task, err := d.store.Enqueue(ctx, store.TaskSpec{Type: store.TaskCreateDigest, Unit: unit})
	if err != nil {
		return eval, fmt.Errorf("enqueue digest creation: %w", err)
	}
	eval.Enqueued = true
	logger.Info("digest creation enqueued",
		logging.String(logging.FieldDecisionType, "digest_eligibility"),
		logging.String("trigger", string(trigger)),
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.Int("blocks", eval.Total),
	)
	return eval, nil
}
