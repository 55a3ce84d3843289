package tge

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/sparkchain/tge/pkg/ledger"
)

// Initialize creates the global distribution record in the active phase and
// provisions the custodian account. The caller becomes the authority for
// all subsequent admin operations.
func (e *Engine) Initialize(ctx context.Context, authority solana.PublicKey, commitEndTime time.Time, rate, targetRaise uint64) (err error) {
	defer e.observe("initialize", time.Now(), &err)

	if rate == 0 {
		return ErrInvalidRate
	}
	if !commitEndTime.After(e.clock.Now()) {
		return fmt.Errorf("commit end time %s is not in the future: %w",
			commitEndTime.UTC().Format(time.RFC3339), ErrInvalidEndTime)
	}

	err = e.withTx(ctx, func(tx pgx.Tx) error {
		st := &DistributionState{
			Authority:     authority,
			IsActive:      true,
			CommitEndTime: commitEndTime,
			Rate:          rate,
			TargetRaise:   targetRaise,
			TotalScore:    new(uint256.Int),
		}
		if err := e.store.InsertDistributionState(ctx, tx, st); err != nil {
			return err
		}
		if err := ledger.EnsureAccount(ctx, tx, ledger.CustodianAccount, ledger.AssetCurrency); err != nil {
			return err
		}
		return e.store.AppendEvent(ctx, tx, EventInitialized, map[string]any{
			"authority":       authority.String(),
			"commit_end_time": commitEndTime.UTC(),
			"rate":            rate,
			"target_raise":    targetRaise,
		})
	})
	if err != nil {
		return err
	}

	e.log.Info("tge: distribution initialized",
		"authority", authority.String(), "commit_end_time", commitEndTime.UTC(),
		"rate", rate, "target_raise", targetRaise)
	return nil
}

// InitializeBackendSigner registers the trusted proof-issuing key. Gated by
// the distribution authority; the nonce counter starts at zero.
func (e *Engine) InitializeBackendSigner(ctx context.Context, caller, backendKey solana.PublicKey) (err error) {
	defer e.observe("initialize_backend_signer", time.Now(), &err)

	err = e.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := e.requireAuthority(ctx, tx, caller); err != nil {
			return err
		}

		if err := e.store.InsertBackendSigner(ctx, tx, &BackendSigner{
			OwnerAuthority: caller,
			PublicKey:      backendKey,
			IsActive:       true,
		}); err != nil {
			return err
		}
		return e.store.AppendEvent(ctx, tx, EventBackendSignerInitialized, map[string]any{
			"owner_authority": caller.String(),
			"public_key":      backendKey.String(),
		})
	})
	if err != nil {
		return err
	}

	e.log.Info("tge: backend signer initialized", "public_key", backendKey.String())
	return nil
}

// UpdateBackendSigner rotates the proof-issuing key and/or toggles its
// active flag. The nonce counter survives rotation so replay protection
// carries across keys. Nil arguments leave the corresponding field
// unchanged.
func (e *Engine) UpdateBackendSigner(ctx context.Context, caller solana.PublicKey, newKey *solana.PublicKey, isActive *bool) (err error) {
	defer e.observe("update_backend_signer", time.Now(), &err)

	err = e.withTx(ctx, func(tx pgx.Tx) error {
		signer, err := e.store.GetBackendSigner(ctx, tx, true)
		if err != nil {
			return err
		}
		if signer == nil {
			return ErrNotInitialized
		}
		if !caller.Equals(signer.OwnerAuthority) {
			return ErrUnauthorized
		}

		oldKey := signer.PublicKey
		if newKey != nil {
			signer.PublicKey = *newKey
		}
		if isActive != nil {
			signer.IsActive = *isActive
		}
		if err := e.store.UpdateBackendSigner(ctx, tx, signer); err != nil {
			return err
		}
		return e.store.AppendEvent(ctx, tx, EventBackendSignerUpdated, map[string]any{
			"old_public_key": oldKey.String(),
			"public_key":     signer.PublicKey.String(),
			"is_active":      signer.IsActive,
			"nonce_counter":  signer.NonceCounter,
		})
	})
	if err != nil {
		return err
	}

	e.log.Info("tge: backend signer updated")
	return nil
}

// CreateVault provisions the reward token vault account.
func (e *Engine) CreateVault(ctx context.Context, caller solana.PublicKey) (err error) {
	defer e.observe("create_vault", time.Now(), &err)

	err = e.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := e.requireAuthority(ctx, tx, caller); err != nil {
			return err
		}
		if err := ledger.EnsureAccount(ctx, tx, ledger.VaultAccount, ledger.AssetToken); err != nil {
			return err
		}
		return e.store.AppendEvent(ctx, tx, EventVaultCreated, map[string]any{
			"vault": ledger.VaultAccount,
		})
	})
	if err != nil {
		return err
	}

	e.log.Info("tge: vault created")
	return nil
}

// FundVault moves reward tokens from the caller into the vault and grows
// the distributable pool by the same amount. Repeated funding tops the pool
// up rather than replacing it.
func (e *Engine) FundVault(ctx context.Context, caller solana.PublicKey, amount uint64) (err error) {
	defer e.observe("fund_vault", time.Now(), &err)

	err = e.withTx(ctx, func(tx pgx.Tx) error {
		st, err := e.requireAuthority(ctx, tx, caller)
		if err != nil {
			return err
		}

		if err := ledger.Transfer(ctx, tx,
			caller.String(), ledger.VaultAccount, ledger.AssetToken, amount); err != nil {
			return err
		}
		if st.TokenPoolSize, err = addUint64(st.TokenPoolSize, amount); err != nil {
			return err
		}
		if err := e.store.UpdateDistributionState(ctx, tx, st); err != nil {
			return err
		}
		return e.store.AppendEvent(ctx, tx, EventVaultFunded, map[string]any{
			"funder":          caller.String(),
			"amount":          amount,
			"token_pool_size": st.TokenPoolSize,
		})
	})
	if err != nil {
		return err
	}

	e.log.Info("tge: vault funded", "amount", amount)
	return nil
}

// SetCommitEndTime moves the commit deadline. Extensions are bounded to
// MaxDeadlineExtension past the current deadline. Moving the deadline into
// the future reactivates a distribution that ended on time alone; one that
// hit its target stays ended.
func (e *Engine) SetCommitEndTime(ctx context.Context, caller solana.PublicKey, newEndTime time.Time) (err error) {
	defer e.observe("set_commit_end_time", time.Now(), &err)

	err = e.withTx(ctx, func(tx pgx.Tx) error {
		st, err := e.requireAuthority(ctx, tx, caller)
		if err != nil {
			return err
		}

		if newEndTime.After(st.CommitEndTime.Add(MaxDeadlineExtension)) {
			return fmt.Errorf("new end time exceeds maximum extension of %s: %w",
				MaxDeadlineExtension, ErrInvalidEndTime)
		}

		now := e.clock.Now()
		oldEndTime := st.CommitEndTime
		st.CommitEndTime = newEndTime

		targetReached := st.TargetRaise > 0 && st.TotalRaised >= st.TargetRaise
		if !st.IsActive && !targetReached && newEndTime.After(now) {
			st.IsActive = true
		}
		e.maybeEndDistribution(st, now)

		if err := e.store.UpdateDistributionState(ctx, tx, st); err != nil {
			return err
		}
		return e.store.AppendEvent(ctx, tx, EventCommitEndTimeUpdated, map[string]any{
			"old_end_time": oldEndTime.UTC(),
			"new_end_time": newEndTime.UTC(),
			"is_active":    st.IsActive,
		})
	})
	if err != nil {
		return err
	}

	e.log.Info("tge: commit end time updated", "new_end_time", newEndTime.UTC())
	return nil
}

// Withdraw moves raised currency from the custodian to the authority. Only
// allowed once the distribution has ended; the end condition is re-evaluated
// against the current time first, so a passed deadline takes effect here
// without waiting for another commit.
func (e *Engine) Withdraw(ctx context.Context, caller solana.PublicKey, amount uint64) (err error) {
	defer e.observe("withdraw", time.Now(), &err)

	err = e.withTx(ctx, func(tx pgx.Tx) error {
		st, err := e.requireAuthority(ctx, tx, caller)
		if err != nil {
			return err
		}

		if e.maybeEndDistribution(st, e.clock.Now()) {
			if err := e.store.UpdateDistributionState(ctx, tx, st); err != nil {
				return err
			}
		}
		if st.IsActive {
			return ErrWithdrawConditionsNotMet
		}

		if err := ledger.Transfer(ctx, tx,
			ledger.CustodianAccount, caller.String(), ledger.AssetCurrency, amount); err != nil {
			return err
		}
		return e.store.AppendEvent(ctx, tx, EventCurrencyWithdrawn, map[string]any{
			"authority": caller.String(),
			"amount":    amount,
		})
	})
	if err != nil {
		return err
	}

	e.log.Info("tge: currency withdrawn", "amount", amount)
	return nil
}

// requireAuthority loads the distribution record with a row lock and checks
// the caller against its authority.
func (e *Engine) requireAuthority(ctx context.Context, tx pgx.Tx, caller solana.PublicKey) (*DistributionState, error) {
	st, err := e.store.GetDistributionState(ctx, tx, true)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNotInitialized
	}
	if !caller.Equals(st.Authority) {
		return nil, ErrUnauthorized
	}
	return st, nil
}
