package tge

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/sparkchain/tge/pkg/ledger"
	"github.com/sparkchain/tge/pkg/metrics"
	"github.com/sparkchain/tge/pkg/proof"
)

// CommitResources validates a proof-backed pledge and applies it: currency
// moves to the custodian, the participant's commitment accumulates, the
// global totals advance, and the nonce counter jumps to the submitted value.
// Preconditions are checked in a fixed order so each failure mode is a
// distinct, stable error.
func (e *Engine) CommitResources(ctx context.Context, req CommitRequest) (receipt *CommitReceipt, err error) {
	defer e.observe("commit_resources", time.Now(), &err)

	err = e.withTx(ctx, func(tx pgx.Tx) error {
		st, err := e.store.GetDistributionState(ctx, tx, true)
		if err != nil {
			return err
		}
		if st == nil || !st.IsActive {
			return ErrDistributionNotActive
		}

		now := e.clock.Now()
		if !now.Before(st.CommitEndTime) {
			return ErrCommitPeriodEnded
		}

		signer, err := e.store.GetBackendSigner(ctx, tx, true)
		if err != nil {
			return err
		}
		if signer == nil || !signer.IsActive {
			return ErrBackendInactive
		}

		if err := proof.Verify(proof.Proof{
			Owner:     req.Owner,
			Points:    req.Points,
			Nonce:     req.Nonce,
			Expiry:    req.Expiry,
			Signature: req.Signature,
		}, now, proof.SignerState{
			PublicKey:    signer.PublicKey,
			NonceCounter: signer.NonceCounter,
			IsActive:     signer.IsActive,
		}); err != nil {
			return err
		}

		required := RequiredCurrency(req.Points, st.Rate)
		if uint256.NewInt(req.CurrencyAmount).Lt(required) {
			return fmt.Errorf("pledged %d, need %s: %w",
				req.CurrencyAmount, required.Dec(), ErrInsufficientCurrencyCommitment)
		}

		if err := ledger.Transfer(ctx, tx,
			req.Owner.String(), ledger.CustodianAccount, ledger.AssetCurrency,
			req.CurrencyAmount); err != nil {
			return err
		}

		uc, err := e.store.GetUserCommitment(ctx, tx, req.Owner, true)
		if err != nil {
			return err
		}
		if uc == nil {
			uc = &UserCommitment{Owner: req.Owner, Score: new(uint256.Int)}
		}

		delta := ScoreDelta(req.CurrencyAmount, req.Points)
		if uc.Points, err = addUint64(uc.Points, req.Points); err != nil {
			return err
		}
		if uc.Currency, err = addUint64(uc.Currency, req.CurrencyAmount); err != nil {
			return err
		}
		if _, overflow := uc.Score.AddOverflow(uc.Score, delta); overflow {
			return ErrArithmeticOverflow
		}
		if err := e.store.UpsertUserCommitment(ctx, tx, uc); err != nil {
			return err
		}

		if st.TotalRaised, err = addUint64(st.TotalRaised, req.CurrencyAmount); err != nil {
			return err
		}
		if _, overflow := st.TotalScore.AddOverflow(st.TotalScore, delta); overflow {
			return ErrArithmeticOverflow
		}

		signer.NonceCounter = req.Nonce
		if err := e.store.UpdateBackendSigner(ctx, tx, signer); err != nil {
			return err
		}

		// Deadline was checked above, so a flip here means the target was hit.
		if e.maybeEndDistribution(st, now) {
			if err := e.store.AppendEvent(ctx, tx, EventTargetRaiseReached, map[string]any{
				"total_raised": st.TotalRaised,
				"target_raise": st.TargetRaise,
			}); err != nil {
				return err
			}
			e.log.Info("tge: target raise reached, distribution ended",
				"total_raised", st.TotalRaised, "target_raise", st.TargetRaise)
		}

		if err := e.store.UpdateDistributionState(ctx, tx, st); err != nil {
			return err
		}

		if err := e.store.AppendEvent(ctx, tx, EventResourcesCommitted, map[string]any{
			"owner":        req.Owner.String(),
			"points":       req.Points,
			"currency":     req.CurrencyAmount,
			"nonce":        req.Nonce,
			"score_delta":  delta.Dec(),
			"total_raised": st.TotalRaised,
		}); err != nil {
			return err
		}

		receipt = &CommitReceipt{
			Owner:             req.Owner,
			Points:            req.Points,
			CurrencyAmount:    req.CurrencyAmount,
			Score:             uc.Score.Clone(),
			Nonce:             req.Nonce,
			TotalRaised:       st.TotalRaised,
			DistributionEnded: !st.IsActive,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TotalRaised.Set(float64(receipt.TotalRaised))
	if n, cerr := e.store.CountCommitments(ctx, e.pool); cerr == nil {
		metrics.TotalCommitments.Set(float64(n))
	}

	e.log.Info("tge: resources committed",
		"owner", receipt.Owner.String(), "points", receipt.Points,
		"currency", receipt.CurrencyAmount, "nonce", receipt.Nonce,
		"total_raised", receipt.TotalRaised, "ended", receipt.DistributionEnded)
	return receipt, nil
}
