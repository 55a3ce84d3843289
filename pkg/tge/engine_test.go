package tge_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/sparkchain/tge/pkg/ledger"
	"github.com/sparkchain/tge/pkg/pgtest"
	"github.com/sparkchain/tge/pkg/proof"
	"github.com/sparkchain/tge/pkg/tge"
)

// Tests share one container and truncate between runs, so they stay serial.

type env struct {
	t         *testing.T
	pool      *pgxpool.Pool
	clock     *clockwork.FakeClock
	engine    *tge.Engine
	prover    *proof.Prover
	authority solana.PublicKey
}

func newEnv(t *testing.T) *env {
	t.Helper()

	pool := pgtest.NewTestPool(t, testDB)
	pgtest.TruncateAll(t, pool)

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	engine, err := tge.New(tge.Config{
		Logger: slog.Default(),
		Pool:   pool,
		Clock:  clock,
	})
	require.NoError(t, err)

	return &env{
		t:         t,
		pool:      pool,
		clock:     clock,
		engine:    engine,
		authority: solana.NewWallet().PublicKey(),
	}
}

func (e *env) initDistribution(deadline time.Duration, rate, target uint64) {
	e.t.Helper()
	require.NoError(e.t, e.engine.Initialize(
		e.t.Context(), e.authority, e.clock.Now().Add(deadline), rate, target))
}

func (e *env) initSigner() {
	e.t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(e.t, err)
	e.prover, err = proof.NewProver(proof.ProverConfig{
		Logger:   slog.Default(),
		Clock:    e.clock,
		Key:      key,
		ProofTTL: 10 * time.Minute,
	})
	require.NoError(e.t, err)
	require.NoError(e.t, e.engine.InitializeBackendSigner(e.t.Context(), e.authority, e.prover.PublicKey()))
}

func (e *env) fundVault(amount uint64) {
	e.t.Helper()
	ctx := e.t.Context()
	require.NoError(e.t, e.engine.CreateVault(ctx, e.authority))
	require.NoError(e.t, ledger.Credit(ctx, e.pool, e.authority.String(), ledger.AssetToken, amount))
	require.NoError(e.t, e.engine.FundVault(ctx, e.authority, amount))
}

func (e *env) fundUser(owner solana.PublicKey, amount uint64) {
	e.t.Helper()
	require.NoError(e.t, ledger.Credit(e.t.Context(), e.pool, owner.String(), ledger.AssetCurrency, amount))
}

func (e *env) commitWith(p *proof.Prover, owner solana.PublicKey, points, currency uint64) (*tge.CommitReceipt, error) {
	e.t.Helper()
	pr, err := p.Issue(owner, points)
	require.NoError(e.t, err)
	return e.engine.CommitResources(e.t.Context(), tge.CommitRequest{
		Owner:          owner,
		Points:         points,
		CurrencyAmount: currency,
		Nonce:          pr.Nonce,
		Expiry:         pr.Expiry,
		Signature:      pr.Signature,
	})
}

func (e *env) commit(owner solana.PublicKey, points, currency uint64) (*tge.CommitReceipt, error) {
	e.t.Helper()
	return e.commitWith(e.prover, owner, points, currency)
}

func (e *env) balance(account, asset string) uint64 {
	e.t.Helper()
	b, err := ledger.Balance(e.t.Context(), e.pool, account, asset)
	require.NoError(e.t, err)
	return b
}

func TestTGE_Engine_InitializeLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	err := e.engine.Initialize(ctx, e.authority, e.clock.Now().Add(time.Hour), 0, 1000)
	require.ErrorIs(t, err, tge.ErrInvalidRate)

	err = e.engine.Initialize(ctx, e.authority, e.clock.Now().Add(-time.Hour), tge.RateScale, 1000)
	require.ErrorIs(t, err, tge.ErrInvalidEndTime)

	e.initDistribution(time.Hour, tge.RateScale, 1000)

	err = e.engine.Initialize(ctx, e.authority, e.clock.Now().Add(time.Hour), tge.RateScale, 1000)
	require.ErrorIs(t, err, tge.ErrAlreadyInitialized)

	view, err := e.engine.State(ctx)
	require.NoError(t, err)
	require.Equal(t, tge.PhaseActive, view.Phase)
	require.Equal(t, e.authority, view.State.Authority)
	require.Equal(t, uint64(tge.RateScale), view.State.Rate)
	require.True(t, view.State.TotalScore.IsZero())
	require.Nil(t, view.Signer)
}

func TestTGE_Engine_CommitAndClaim(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	e.initDistribution(time.Hour, tge.RateScale, 1000)
	e.initSigner()
	e.fundVault(1_000_000_000)

	user := solana.NewWallet().PublicKey()
	e.fundUser(user, 5_000_000_000)

	receipt, err := e.commit(user, 100, 1_000_000_000)
	require.NoError(t, err)
	require.Equal(t, "1000010000", receipt.Score.Dec())
	require.Equal(t, uint64(1_000_000_000), receipt.TotalRaised)
	require.True(t, receipt.DistributionEnded, "raise is past target")

	require.Equal(t, uint64(1_000_000_000), e.balance(ledger.CustodianAccount, ledger.AssetCurrency))
	require.Equal(t, uint64(4_000_000_000), e.balance(user.String(), ledger.AssetCurrency))

	claim, err := e.engine.ClaimTokens(ctx, user)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000_000), claim.TokenAmount, "sole participant takes the whole pool")
	require.Equal(t, uint64(1_000_000_000), e.balance(user.String(), ledger.AssetToken))
	require.Zero(t, e.balance(ledger.VaultAccount, ledger.AssetToken))

	_, err = e.engine.ClaimTokens(ctx, user)
	require.ErrorIs(t, err, tge.ErrAlreadyClaimed)
}

func TestTGE_Engine_CommitPreconditionOrder(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	user := solana.NewWallet().PublicKey()

	t.Run("uninitialized", func(t *testing.T) {
		_, err := e.engine.CommitResources(ctx, tge.CommitRequest{Owner: user, Points: 1, CurrencyAmount: 1})
		require.ErrorIs(t, err, tge.ErrDistributionNotActive)
	})

	e.initDistribution(time.Hour, tge.RateScale, 1_000_000_000_000)

	t.Run("no signer record", func(t *testing.T) {
		_, err := e.engine.CommitResources(ctx, tge.CommitRequest{Owner: user, Points: 1, CurrencyAmount: 1})
		require.ErrorIs(t, err, tge.ErrBackendInactive)
	})

	e.initSigner()
	e.fundUser(user, 10_000)

	t.Run("insufficient pledge", func(t *testing.T) {
		_, err := e.commit(user, 1000, 999)
		require.ErrorIs(t, err, tge.ErrInsufficientCurrencyCommitment)
	})

	t.Run("unfunded pledge", func(t *testing.T) {
		_, err := e.commit(user, 10, 20_000)
		require.ErrorIs(t, err, tge.ErrInsufficientBalance)
	})

	t.Run("nonce replay", func(t *testing.T) {
		pr, err := e.prover.Issue(user, 10)
		require.NoError(t, err)
		req := tge.CommitRequest{
			Owner: user, Points: 10, CurrencyAmount: 100,
			Nonce: pr.Nonce, Expiry: pr.Expiry, Signature: pr.Signature,
		}
		_, err = e.engine.CommitResources(ctx, req)
		require.NoError(t, err)
		_, err = e.engine.CommitResources(ctx, req)
		require.ErrorIs(t, err, tge.ErrInvalidNonce)
	})

	t.Run("disabled signer", func(t *testing.T) {
		inactive := false
		require.NoError(t, e.engine.UpdateBackendSigner(ctx, e.authority, nil, &inactive))

		// A spent nonce and a missing signature must not mask the
		// disabled signer: it is checked before the proof.
		_, err := e.engine.CommitResources(ctx, tge.CommitRequest{
			Owner: user, Points: 10, CurrencyAmount: 100, Nonce: 1,
		})
		require.ErrorIs(t, err, tge.ErrBackendInactive)

		_, err = e.commit(user, 10, 100)
		require.ErrorIs(t, err, tge.ErrBackendInactive)

		active := true
		require.NoError(t, e.engine.UpdateBackendSigner(ctx, e.authority, nil, &active))
	})

	t.Run("deadline passed with valid proof", func(t *testing.T) {
		// Issue before advancing so only the deadline check can fail.
		pr, err := e.prover.Issue(user, 10)
		require.NoError(t, err)
		e.clock.Advance(2 * time.Hour)
		_, err = e.engine.CommitResources(ctx, tge.CommitRequest{
			Owner: user, Points: 10, CurrencyAmount: 100,
			Nonce: pr.Nonce, Expiry: pr.Expiry, Signature: pr.Signature,
		})
		require.ErrorIs(t, err, tge.ErrCommitPeriodEnded)
	})
}

func TestTGE_Engine_TargetReachEndsDistribution(t *testing.T) {
	e := newEnv(t)

	e.initDistribution(time.Hour, tge.RateScale, 500)
	e.initSigner()

	first := solana.NewWallet().PublicKey()
	second := solana.NewWallet().PublicKey()
	e.fundUser(first, 1000)
	e.fundUser(second, 1000)

	receipt, err := e.commit(first, 0, 500)
	require.NoError(t, err)
	require.True(t, receipt.DistributionEnded)

	_, err = e.commit(second, 0, 100)
	require.ErrorIs(t, err, tge.ErrDistributionNotActive)

	view, err := e.engine.State(t.Context())
	require.NoError(t, err)
	require.Equal(t, tge.PhaseEnded, view.Phase)
}

func TestTGE_Engine_Conservation(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	e.initDistribution(time.Hour, tge.RateScale, 1_000_000_000_000)
	e.initSigner()

	users := []solana.PublicKey{
		solana.NewWallet().PublicKey(),
		solana.NewWallet().PublicKey(),
		solana.NewWallet().PublicKey(),
	}
	commits := []struct {
		user     int
		points   uint64
		currency uint64
	}{
		{0, 100, 100},
		{1, 0, 2500},
		{2, 7, 1000},
		{0, 50, 50},
		{1, 3, 999},
	}

	var wantRaised uint64
	for _, c := range commits {
		e.fundUser(users[c.user], c.currency)
		_, err := e.commit(users[c.user], c.points, c.currency)
		require.NoError(t, err)
		wantRaised += c.currency
	}

	view, err := e.engine.State(ctx)
	require.NoError(t, err)
	require.Equal(t, wantRaised, view.State.TotalRaised)
	require.Equal(t, wantRaised, e.balance(ledger.CustodianAccount, ledger.AssetCurrency))

	var sumCurrency uint64
	sumScore := new(uint256.Int)
	for _, u := range users {
		uc, err := e.engine.Commitment(ctx, u)
		require.NoError(t, err)
		sumCurrency += uc.Currency
		_, overflow := sumScore.AddOverflow(sumScore, uc.Score)
		require.False(t, overflow)
	}
	require.Equal(t, wantRaised, sumCurrency)
	require.Zero(t, view.State.TotalScore.Cmp(sumScore))
}

func TestTGE_Engine_DustBound(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	const pool = uint64(1_000_000_000)
	e.initDistribution(time.Hour, tge.RateScale, 1_000_000)
	e.initSigner()
	e.fundVault(pool)

	// Seven participants with score 1 each: totalScore = 7 does not divide
	// the pool, so every claim rounds down.
	users := make([]solana.PublicKey, 7)
	for i := range users {
		users[i] = solana.NewWallet().PublicKey()
		e.fundUser(users[i], 1)
		_, err := e.commit(users[i], 0, 1)
		require.NoError(t, err)
	}

	var distributed uint64
	for _, u := range users {
		claim, err := e.engine.ClaimTokens(ctx, u)
		require.NoError(t, err)
		distributed += claim.TokenAmount
	}

	require.LessOrEqual(t, distributed, pool)
	require.Less(t, pool-distributed, uint64(len(users)), "dust is bounded by claimant count")
	require.Equal(t, pool-distributed, e.balance(ledger.VaultAccount, ledger.AssetToken))
}

func TestTGE_Engine_WithdrawGates(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	e.initDistribution(time.Hour, tge.RateScale, 1_000_000)
	e.initSigner()

	user := solana.NewWallet().PublicKey()
	e.fundUser(user, 500)
	_, err := e.commit(user, 0, 500)
	require.NoError(t, err)

	err = e.engine.Withdraw(ctx, e.authority, 500)
	require.ErrorIs(t, err, tge.ErrWithdrawConditionsNotMet)

	err = e.engine.Withdraw(ctx, solana.NewWallet().PublicKey(), 500)
	require.ErrorIs(t, err, tge.ErrUnauthorized)

	// The passed deadline takes effect inside withdraw itself, with no
	// commit in between to flip the phase.
	e.clock.Advance(2 * time.Hour)

	err = e.engine.Withdraw(ctx, e.authority, 501)
	require.ErrorIs(t, err, tge.ErrInsufficientBalance)

	require.NoError(t, e.engine.Withdraw(ctx, e.authority, 500))
	require.Equal(t, uint64(500), e.balance(e.authority.String(), ledger.AssetCurrency))
	require.Zero(t, e.balance(ledger.CustodianAccount, ledger.AssetCurrency))

	view, err := e.engine.State(ctx)
	require.NoError(t, err)
	require.Equal(t, tge.PhaseEnded, view.Phase)
}

func TestTGE_Engine_SignerRotationPreservesNonce(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	e.initDistribution(time.Hour, tge.RateScale, 1_000_000)
	e.initSigner()

	user := solana.NewWallet().PublicKey()
	e.fundUser(user, 10_000)

	receipt, err := e.commit(user, 0, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(1), receipt.Nonce)

	newKey, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	pub := newKey.PublicKey()
	require.NoError(t, e.engine.UpdateBackendSigner(ctx, e.authority, &pub, nil))

	// Proofs from the retired key no longer verify.
	_, err = e.commit(user, 0, 100)
	require.ErrorIs(t, err, tge.ErrBadSignature)

	// A fresh prover unaware of the counter replays a spent nonce.
	stale, err := proof.NewProver(proof.ProverConfig{
		Logger: slog.Default(), Clock: e.clock, Key: newKey, ProofTTL: 10 * time.Minute,
	})
	require.NoError(t, err)
	_, err = e.commitWith(stale, user, 0, 100)
	require.ErrorIs(t, err, tge.ErrInvalidNonce)

	// Seeding from the on-record counter resumes cleanly.
	resumed, err := proof.NewProver(proof.ProverConfig{
		Logger: slog.Default(), Clock: e.clock, Key: newKey, ProofTTL: 10 * time.Minute,
		StartNonce: receipt.Nonce,
	})
	require.NoError(t, err)
	receipt, err = e.commitWith(resumed, user, 0, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(2), receipt.Nonce)
}

func TestTGE_Engine_SetCommitEndTime(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	e.initDistribution(time.Hour, tge.RateScale, 1_000_000)
	e.initSigner()

	user := solana.NewWallet().PublicKey()
	e.fundUser(user, 10_000)

	t.Run("extension bound", func(t *testing.T) {
		tooFar := e.clock.Now().Add(time.Hour + tge.MaxDeadlineExtension + time.Minute)
		err := e.engine.SetCommitEndTime(ctx, e.authority, tooFar)
		require.ErrorIs(t, err, tge.ErrInvalidEndTime)
	})

	t.Run("reactivates after deadline-only end", func(t *testing.T) {
		e.clock.Advance(2 * time.Hour)
		// Withdraw persists the deadline-driven phase flip.
		require.NoError(t, e.engine.Withdraw(ctx, e.authority, 0))

		view, err := e.engine.State(ctx)
		require.NoError(t, err)
		require.Equal(t, tge.PhaseEnded, view.Phase)

		require.NoError(t, e.engine.SetCommitEndTime(ctx, e.authority, e.clock.Now().Add(time.Hour)))

		view, err = e.engine.State(ctx)
		require.NoError(t, err)
		require.Equal(t, tge.PhaseActive, view.Phase)

		_, err = e.commit(user, 0, 100)
		require.NoError(t, err)
	})

	t.Run("stays ended once target reached", func(t *testing.T) {
		_, err := e.commit(user, 0, 1_000_000)
		require.ErrorIs(t, err, tge.ErrInsufficientBalance)
		e.fundUser(user, 1_000_000)
		receipt, err := e.commit(user, 0, 1_000_000)
		require.NoError(t, err)
		require.True(t, receipt.DistributionEnded)

		require.NoError(t, e.engine.SetCommitEndTime(ctx, e.authority, e.clock.Now().Add(time.Hour)))

		view, err := e.engine.State(ctx)
		require.NoError(t, err)
		require.Equal(t, tge.PhaseEnded, view.Phase)

		_, err = e.commit(user, 0, 100)
		require.ErrorIs(t, err, tge.ErrDistributionNotActive)
	})
}

func TestTGE_Engine_ClaimWithZeroTotalScore(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	e.initDistribution(time.Hour, tge.RateScale, 1_000_000)
	e.initSigner()
	e.fundVault(1000)

	// A zero-point, zero-currency pledge is accepted but accrues no score,
	// so the global score stays zero.
	user := solana.NewWallet().PublicKey()
	receipt, err := e.commit(user, 0, 0)
	require.NoError(t, err)
	require.True(t, receipt.Score.IsZero())

	uc, err := e.engine.Commitment(ctx, user)
	require.NoError(t, err)
	require.True(t, uc.Score.IsZero())
	require.False(t, uc.Claimed)

	_, err = e.engine.ClaimTokens(ctx, user)
	require.ErrorIs(t, err, tge.ErrNoDistribution)

	// The failed claim must not burn the once-only flag.
	uc, err = e.engine.Commitment(ctx, user)
	require.NoError(t, err)
	require.False(t, uc.Claimed)
}

func TestTGE_Engine_EventsJournal(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	e.initDistribution(time.Hour, tge.RateScale, 1_000_000)
	e.initSigner()
	e.fundVault(1000)

	user := solana.NewWallet().PublicKey()
	e.fundUser(user, 100)
	_, err := e.commit(user, 0, 100)
	require.NoError(t, err)
	_, err = e.engine.ClaimTokens(ctx, user)
	require.NoError(t, err)

	events, err := e.engine.Events(ctx, "", 50)
	require.NoError(t, err)
	kinds := make(map[tge.EventKind]int)
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	require.Equal(t, 1, kinds[tge.EventInitialized])
	require.Equal(t, 1, kinds[tge.EventBackendSignerInitialized])
	require.Equal(t, 1, kinds[tge.EventVaultCreated])
	require.Equal(t, 1, kinds[tge.EventVaultFunded])
	require.Equal(t, 1, kinds[tge.EventResourcesCommitted])
	require.Equal(t, 1, kinds[tge.EventTokensClaimed])

	claimed, err := e.engine.Events(ctx, string(tge.EventTokensClaimed), 50)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
}

func TestTGE_Engine_ReadErrors(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	view, err := e.engine.State(ctx)
	require.NoError(t, err)
	require.Equal(t, tge.PhaseUninitialized, view.Phase)

	_, err = e.engine.Commitment(ctx, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, tge.ErrNoCommitments)

	_, err = e.engine.ClaimTokens(ctx, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, tge.ErrNoCommitments)

	err = e.engine.Withdraw(ctx, e.authority, 1)
	require.ErrorIs(t, err, tge.ErrNotInitialized)
}
