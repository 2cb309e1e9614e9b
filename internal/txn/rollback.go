package txn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// RollbackConfig holds the retry and compensation knobs.
type RollbackConfig struct {
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	ParallelRollback bool
	ValidateAfter    bool
}

// DefaultRollbackConfig returns the stock retry policy.
func DefaultRollbackConfig() RollbackConfig {
	return RollbackConfig{
		RetryAttempts:    3,
		RetryBaseDelay:   time.Second,
		ParallelRollback: true,
		ValidateAfter:    true,
	}
}

// RollbackManager compensates a coordinator's applied steps, retrying
// transient failures with exponential backoff (base * 2^attempt) and
// running compensations in parallel or sequentially per config.
type RollbackManager struct {
	cfg RollbackConfig
}

// NewRollbackManager constructs a manager with cfg.
func NewRollbackManager(cfg RollbackConfig) *RollbackManager {
	return &RollbackManager{cfg: cfg}
}

// Compensate undoes steps in reverse order (the reverse of the
// "other indexes first, primary last" commit order, i.e. primary
// first, then hierarchy/status/dependency) — each step's own undo
// closure already encodes what "reverse" means for that step, so
// Compensate only needs to walk the slice backwards and retry each
// one independently. With ParallelRollback set, the reversed steps
// are started together and run concurrently, so the reverse order is
// kept only in sequential mode.
func (m *RollbackManager) Compensate(ctx context.Context, steps []appliedStep, now time.Time) error {
	if len(steps) == 0 {
		return nil
	}
	reversed := make([]appliedStep, len(steps))
	for i, s := range steps {
		reversed[len(steps)-1-i] = s
	}

	var err error
	if m.cfg.ParallelRollback {
		err = m.compensateParallel(ctx, reversed, now)
	} else {
		err = m.compensateSequential(ctx, reversed, now)
	}
	if err != nil {
		return err
	}
	if m.cfg.ValidateAfter {
		return m.validate(reversed)
	}
	return nil
}

func (m *RollbackManager) compensateSequential(ctx context.Context, steps []appliedStep, now time.Time) error {
	for _, step := range steps {
		if err := m.retryStep(ctx, step, now); err != nil {
			return fmt.Errorf("rollback: step %q: %w", step.label, err)
		}
	}
	return nil
}

func (m *RollbackManager) compensateParallel(ctx context.Context, steps []appliedStep, now time.Time) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, step := range steps {
		step := step
		g.Go(func() error {
			if err := m.retryStep(gctx, step, now); err != nil {
				return fmt.Errorf("rollback: step %q: %w", step.label, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// retryStep retries step.undo up to cfg.RetryAttempts times with
// exponential backoff starting at cfg.RetryBaseDelay. Compensation
// closures over the in-memory index set do not themselves fail
// transiently, but I/O-backed compensations (a future durable-store
// compensating write) would, so the retry plumbing is real rather
// than vestigial.
func (m *RollbackManager) retryStep(ctx context.Context, step appliedStep, now time.Time) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.RetryBaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bounded := backoff.WithMaxRetries(bo, uint64(maxInt(m.cfg.RetryAttempts-1, 0)))

	return backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return step.undo(now)
	}, backoff.WithContext(bounded, ctx))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// validate is the post-rollback validation pass: re-reads each
// step's touched index entry and compares it against the state undo
// was supposed to restore, reporting every mismatch rather than
// stopping at the first one so a caller sees the full extent of a
// corrupted rollback. A step with no verify closure (nothing further
// to check beyond undo's own error) is skipped.
func (m *RollbackManager) validate(steps []appliedStep) error {
	var mismatches []string
	for _, step := range steps {
		if step.verify == nil {
			continue
		}
		if err := step.verify(); err != nil {
			mismatches = append(mismatches, err.Error())
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return fmt.Errorf("rollback validation found %d mismatch(es): %s", len(mismatches), strings.Join(mismatches, "; "))
}
