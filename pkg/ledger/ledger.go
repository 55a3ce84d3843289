// Package ledger is the custodian asset ledger: per-account balances for the
// base currency and the reward token, mutated only by transfers that execute
// inside the caller's transaction so protocol state and funds move atomically.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Assets held by the custodian.
const (
	AssetCurrency = "currency"
	AssetToken    = "token"
)

// Well-known internal accounts. The custodian account holds raised currency;
// the vault holds the reward token pool.
const (
	CustodianAccount = "custodian"
	VaultAccount     = "vault"
)

var (
	// ErrInsufficientBalance is returned when the source account cannot
	// cover a transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAmountTooLarge is returned for amounts beyond the ledger's range.
	ErrAmountTooLarge = errors.New("amount exceeds ledger range")
)

// DB is the query surface shared by pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Balance returns the balance of an account; absent rows read as zero.
func Balance(ctx context.Context, db DB, account, asset string) (uint64, error) {
	var amount int64
	err := db.QueryRow(ctx,
		`SELECT amount FROM balances WHERE account = $1 AND asset = $2`,
		account, asset,
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return uint64(amount), nil
}

// Credit mints amount into an account. Used to provision test and vault
// funds; protocol operations only move existing balances with Transfer.
func Credit(ctx context.Context, db DB, account, asset string, amount uint64) error {
	if amount > math.MaxInt64 {
		return ErrAmountTooLarge
	}
	_, err := db.Exec(ctx, `
		INSERT INTO balances (account, asset, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (account, asset)
		DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = now()
	`, account, asset, int64(amount))
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}

// EnsureAccount creates a zero-balance row for the account if absent.
func EnsureAccount(ctx context.Context, db DB, account, asset string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO balances (account, asset, amount)
		VALUES ($1, $2, 0)
		ON CONFLICT (account, asset) DO NOTHING
	`, account, asset)
	if err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}
	return nil
}

// Transfer moves amount from one account to another. The debit and credit
// run in the caller's transaction; a short source balance aborts with
// ErrInsufficientBalance and no mutation.
func Transfer(ctx context.Context, db DB, from, to, asset string, amount uint64) error {
	if amount > math.MaxInt64 {
		return ErrAmountTooLarge
	}
	if amount == 0 {
		return nil
	}

	tag, err := db.Exec(ctx, `
		UPDATE balances
		SET amount = amount - $3, updated_at = now()
		WHERE account = $1 AND asset = $2 AND amount >= $3
	`, from, asset, int64(amount))
	if err != nil {
		return fmt.Errorf("failed to debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debit %s/%s of %d: %w", from, asset, amount, ErrInsufficientBalance)
	}

	if err := Credit(ctx, db, to, asset, amount); err != nil {
		return fmt.Errorf("failed to credit %s: %w", to, err)
	}
	return nil
}
