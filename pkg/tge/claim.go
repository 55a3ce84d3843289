package tge

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/sparkchain/tge/pkg/ledger"
)

// ClaimTokens pays out a participant's pro-rata share of the token pool,
// exactly once. Claims are not phase-gated: an accrued score is claimable as
// soon as any score exists, and rounding dust stays in the vault.
func (e *Engine) ClaimTokens(ctx context.Context, owner solana.PublicKey) (receipt *ClaimReceipt, err error) {
	defer e.observe("claim_tokens", time.Now(), &err)

	err = e.withTx(ctx, func(tx pgx.Tx) error {
		uc, err := e.store.GetUserCommitment(ctx, tx, owner, true)
		if err != nil {
			return err
		}
		if uc == nil {
			return ErrNoCommitments
		}
		if uc.Claimed {
			return ErrAlreadyClaimed
		}

		st, err := e.store.GetDistributionState(ctx, tx, false)
		if err != nil {
			return err
		}
		if st == nil || st.TotalScore.IsZero() {
			return ErrNoDistribution
		}

		amount, err := ClaimAmount(uc.Score, st.TokenPoolSize, st.TotalScore)
		if err != nil {
			return err
		}

		if err := ledger.Transfer(ctx, tx,
			ledger.VaultAccount, owner.String(), ledger.AssetToken, amount); err != nil {
			return err
		}

		uc.Claimed = true
		if err := e.store.UpsertUserCommitment(ctx, tx, uc); err != nil {
			return err
		}

		if err := e.store.AppendEvent(ctx, tx, EventTokensClaimed, map[string]any{
			"owner":  owner.String(),
			"amount": amount,
			"score":  uc.Score.Dec(),
		}); err != nil {
			return err
		}

		receipt = &ClaimReceipt{Owner: owner, TokenAmount: amount}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("tge: tokens claimed",
		"owner", receipt.Owner.String(), "amount", receipt.TokenAmount)
	return receipt, nil
}
