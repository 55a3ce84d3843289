package tge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/sparkchain/tge/pkg/ledger"
)

// Store reads and writes the protocol records. All methods run against the
// caller's querier, which in engine operations is always a serializable
// transaction; locking selects take FOR UPDATE so concurrent commits
// serialize on the singleton rows.
type Store struct {
	log *slog.Logger
}

// NewStore creates a Store.
func NewStore(log *slog.Logger) *Store {
	return &Store{log: log}
}

// GetDistributionState loads the global distribution record, or nil if it
// was never initialized.
func (s *Store) GetDistributionState(ctx context.Context, db ledger.DB, forUpdate bool) (*DistributionState, error) {
	q := `
		SELECT authority, is_active, commit_end_time, rate,
		       target_raise, total_raised, total_score::text, token_pool_size
		FROM distribution_state
		WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var (
		st         DistributionState
		authority  string
		rate       int64
		target     int64
		raised     int64
		totalScore string
		poolSize   int64
	)
	err := db.QueryRow(ctx, q, stateID).Scan(
		&authority, &st.IsActive, &st.CommitEndTime, &rate,
		&target, &raised, &totalScore, &poolSize,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read distribution state: %w", err)
	}

	st.Authority, err = solana.PublicKeyFromBase58(authority)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authority key: %w", err)
	}
	st.TotalScore, err = uint256.FromDecimal(totalScore)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total score: %w", err)
	}
	st.Rate = uint64(rate)
	st.TargetRaise = uint64(target)
	st.TotalRaised = uint64(raised)
	st.TokenPoolSize = uint64(poolSize)
	return &st, nil
}

// InsertDistributionState creates the global distribution record. A second
// insert reports ErrAlreadyInitialized.
func (s *Store) InsertDistributionState(ctx context.Context, db ledger.DB, st *DistributionState) error {
	tag, err := db.Exec(ctx, `
		INSERT INTO distribution_state
			(id, authority, is_active, commit_end_time, rate,
			 target_raise, total_raised, total_score, token_pool_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9)
		ON CONFLICT (id) DO NOTHING
	`, stateID, st.Authority.String(), st.IsActive, st.CommitEndTime, int64(st.Rate),
		int64(st.TargetRaise), int64(st.TotalRaised), st.TotalScore.Dec(), int64(st.TokenPoolSize))
	if err != nil {
		return fmt.Errorf("failed to insert distribution state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyInitialized
	}
	return nil
}

// UpdateDistributionState writes back the mutable fields of the global
// record.
func (s *Store) UpdateDistributionState(ctx context.Context, db ledger.DB, st *DistributionState) error {
	tag, err := db.Exec(ctx, `
		UPDATE distribution_state
		SET is_active = $2, commit_end_time = $3, rate = $4, target_raise = $5,
		    total_raised = $6, total_score = $7::numeric, token_pool_size = $8,
		    updated_at = now()
		WHERE id = $1
	`, stateID, st.IsActive, st.CommitEndTime, int64(st.Rate), int64(st.TargetRaise),
		int64(st.TotalRaised), st.TotalScore.Dec(), int64(st.TokenPoolSize))
	if err != nil {
		return fmt.Errorf("failed to update distribution state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotInitialized
	}
	return nil
}

// GetBackendSigner loads the backend signer record, or nil if it was never
// initialized.
func (s *Store) GetBackendSigner(ctx context.Context, db ledger.DB, forUpdate bool) (*BackendSigner, error) {
	q := `
		SELECT owner_authority, public_key, is_active, nonce_counter
		FROM backend_signer
		WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var (
		bs     BackendSigner
		owner  string
		pubkey string
		nonce  int64
	)
	err := db.QueryRow(ctx, q, signerID).Scan(&owner, &pubkey, &bs.IsActive, &nonce)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backend signer: %w", err)
	}

	bs.OwnerAuthority, err = solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("failed to parse owner authority key: %w", err)
	}
	bs.PublicKey, err = solana.PublicKeyFromBase58(pubkey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer public key: %w", err)
	}
	bs.NonceCounter = uint64(nonce)
	return &bs, nil
}

// InsertBackendSigner creates the backend signer record. A second insert
// reports ErrAlreadyInitialized.
func (s *Store) InsertBackendSigner(ctx context.Context, db ledger.DB, bs *BackendSigner) error {
	tag, err := db.Exec(ctx, `
		INSERT INTO backend_signer (id, owner_authority, public_key, is_active, nonce_counter)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, signerID, bs.OwnerAuthority.String(), bs.PublicKey.String(), bs.IsActive, int64(bs.NonceCounter))
	if err != nil {
		return fmt.Errorf("failed to insert backend signer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyInitialized
	}
	return nil
}

// UpdateBackendSigner writes back the backend signer record, nonce counter
// included.
func (s *Store) UpdateBackendSigner(ctx context.Context, db ledger.DB, bs *BackendSigner) error {
	tag, err := db.Exec(ctx, `
		UPDATE backend_signer
		SET owner_authority = $2, public_key = $3, is_active = $4, nonce_counter = $5,
		    updated_at = now()
		WHERE id = $1
	`, signerID, bs.OwnerAuthority.String(), bs.PublicKey.String(), bs.IsActive, int64(bs.NonceCounter))
	if err != nil {
		return fmt.Errorf("failed to update backend signer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBackendInactive
	}
	return nil
}

// GetUserCommitment loads a participant's commitment record, or nil if the
// participant never committed.
func (s *Store) GetUserCommitment(ctx context.Context, db ledger.DB, owner solana.PublicKey, forUpdate bool) (*UserCommitment, error) {
	q := `
		SELECT points, currency, score::text, claimed
		FROM user_commitments
		WHERE owner = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var (
		uc       UserCommitment
		points   int64
		currency int64
		score    string
	)
	err := db.QueryRow(ctx, q, owner.String()).Scan(&points, &currency, &score, &uc.Claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user commitment: %w", err)
	}

	uc.Owner = owner
	uc.Points = uint64(points)
	uc.Currency = uint64(currency)
	uc.Score, err = uint256.FromDecimal(score)
	if err != nil {
		return nil, fmt.Errorf("failed to parse commitment score: %w", err)
	}
	return &uc, nil
}

// UpsertUserCommitment writes a participant's commitment record, creating it
// on first commit.
func (s *Store) UpsertUserCommitment(ctx context.Context, db ledger.DB, uc *UserCommitment) error {
	_, err := db.Exec(ctx, `
		INSERT INTO user_commitments (owner, points, currency, score, claimed)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (owner)
		DO UPDATE SET points = EXCLUDED.points, currency = EXCLUDED.currency,
		              score = EXCLUDED.score, claimed = EXCLUDED.claimed,
		              updated_at = now()
	`, uc.Owner.String(), int64(uc.Points), int64(uc.Currency), uc.Score.Dec(), uc.Claimed)
	if err != nil {
		return fmt.Errorf("failed to upsert user commitment: %w", err)
	}
	return nil
}

// CountCommitments returns the number of participants with a commitment
// record.
func (s *Store) CountCommitments(ctx context.Context, db ledger.DB) (int64, error) {
	var n int64
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM user_commitments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count commitments: %w", err)
	}
	return n, nil
}
