package tge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/sparkchain/tge/pkg/metrics"
)

// Config configures an Engine.
type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Clock  clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Engine executes protocol operations. Each operation is one serializable
// transaction; serialization failures surface to the caller as retryable
// pgx errors.
type Engine struct {
	log   *slog.Logger
	pool  *pgxpool.Pool
	clock clockwork.Clock
	store *Store
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Engine{
		log:   cfg.Logger,
		pool:  cfg.Pool,
		clock: cfg.Clock,
		store: NewStore(cfg.Logger),
	}, nil
}

// withTx runs fn inside a serializable transaction, committing on success
// and rolling back on any error.
func (e *Engine) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// observe records operation metrics; meant to be deferred with the named
// error result.
func (e *Engine) observe(op string, start time.Time, err *error) {
	status := "ok"
	if *err != nil {
		status = "error"
	}
	metrics.OperationsTotal.WithLabelValues(op, status).Inc()
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// maybeEndDistribution applies the end condition to a loaded record:
// target reached or deadline passed flips it out of the active phase.
// Returns true when this call performed the flip.
func (e *Engine) maybeEndDistribution(st *DistributionState, now time.Time) bool {
	if !st.IsActive {
		return false
	}
	targetReached := st.TargetRaise > 0 && st.TotalRaised >= st.TargetRaise
	deadlinePassed := !now.Before(st.CommitEndTime)
	if !targetReached && !deadlinePassed {
		return false
	}
	st.IsActive = false
	return true
}

// State returns a read-only snapshot of the distribution and signer records.
func (e *Engine) State(ctx context.Context) (*StateView, error) {
	st, err := e.store.GetDistributionState(ctx, e.pool, false)
	if err != nil {
		return nil, err
	}
	signer, err := e.store.GetBackendSigner(ctx, e.pool, false)
	if err != nil {
		return nil, err
	}

	// The stored phase lags real time between transactions; report the
	// deadline as passed without mutating the record.
	view := &StateView{Phase: st.Phase(), State: st, Signer: signer}
	if st != nil && st.IsActive && !e.clock.Now().Before(st.CommitEndTime) {
		view.Phase = PhaseEnded
	}
	return view, nil
}

// Commitment returns a participant's commitment record.
func (e *Engine) Commitment(ctx context.Context, owner solana.PublicKey) (*UserCommitment, error) {
	uc, err := e.store.GetUserCommitment(ctx, e.pool, owner, false)
	if err != nil {
		return nil, err
	}
	if uc == nil {
		return nil, ErrNoCommitments
	}
	return uc, nil
}

// Events returns journal entries newest first, optionally filtered by kind.
func (e *Engine) Events(ctx context.Context, kind string, limit int) ([]Event, error) {
	return e.store.ListEvents(ctx, e.pool, kind, limit)
}

// RefreshMetrics updates the raise and commitment gauges from stored state.
func (e *Engine) RefreshMetrics(ctx context.Context) error {
	st, err := e.store.GetDistributionState(ctx, e.pool, false)
	if err != nil {
		return err
	}
	if st != nil {
		metrics.TotalRaised.Set(float64(st.TotalRaised))
	}
	n, err := e.store.CountCommitments(ctx, e.pool)
	if err != nil {
		return err
	}
	metrics.TotalCommitments.Set(float64(n))
	return nil
}
