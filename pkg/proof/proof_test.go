package proof

import (
	"encoding/binary"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func testProver(t *testing.T, clock clockwork.Clock) *Prover {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	p, err := NewProver(ProverConfig{
		Logger:   slog.Default(),
		Clock:    clock,
		Key:      key,
		ProofTTL: 5 * time.Minute,
	})
	require.NoError(t, err)
	return p
}

func TestTGE_Proof_MessageFormat(t *testing.T) {
	t.Parallel()

	owner := solana.NewWallet().PublicKey()
	points := uint64(100)
	nonce := uint64(1)
	expiry := int64(1672531199)

	msg := Message(owner, points, nonce, expiry)

	// prefix, then owner, then points/nonce/expiry as little-endian u64.
	// Any change here is a breaking change for the backend service.
	expected := []byte("POINTS_DEDUCTION_PROOF:")
	expected = append(expected, owner[:]...)
	expected = binary.LittleEndian.AppendUint64(expected, points)
	expected = binary.LittleEndian.AppendUint64(expected, nonce)
	expected = binary.LittleEndian.AppendUint64(expected, uint64(expiry))

	require.Equal(t, expected, msg)
	require.Len(t, msg, len("POINTS_DEDUCTION_PROOF:")+32+8+8+8)
}

func TestTGE_Proof_IssueAndVerify(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	prover := testProver(t, clock)
	owner := solana.NewWallet().PublicKey()

	p, err := prover.Issue(owner, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.Nonce)

	signer := SignerState{
		PublicKey:    prover.PublicKey(),
		NonceCounter: 0,
		IsActive:     true,
	}
	require.NoError(t, Verify(p, clock.Now(), signer))
}

func TestTGE_Proof_VerifyFailureOrder(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	prover := testProver(t, clock)
	owner := solana.NewWallet().PublicKey()

	p, err := prover.Issue(owner, 100)
	require.NoError(t, err)

	active := SignerState{PublicKey: prover.PublicKey(), IsActive: true}

	t.Run("expired", func(t *testing.T) {
		// Expiry check comes first even when the nonce is also stale.
		stale := SignerState{PublicKey: prover.PublicKey(), NonceCounter: p.Nonce, IsActive: true}
		err := Verify(p, time.Unix(p.Expiry, 0), stale)
		require.ErrorIs(t, err, ErrExpiredProof)
	})

	t.Run("reused nonce", func(t *testing.T) {
		stale := SignerState{PublicKey: prover.PublicKey(), NonceCounter: p.Nonce, IsActive: true}
		err := Verify(p, clock.Now(), stale)
		require.ErrorIs(t, err, ErrInvalidNonce)
	})

	t.Run("inactive signer", func(t *testing.T) {
		inactive := SignerState{PublicKey: prover.PublicKey(), IsActive: false}
		err := Verify(p, clock.Now(), inactive)
		require.ErrorIs(t, err, ErrSignerInactive)
	})

	t.Run("tampered signature", func(t *testing.T) {
		tampered := p
		tampered.Signature[32] ^= 0x01
		err := Verify(tampered, clock.Now(), active)
		require.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("tampered points", func(t *testing.T) {
		tampered := p
		tampered.Points++
		err := Verify(tampered, clock.Now(), active)
		require.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := solana.NewRandomPrivateKey()
		require.NoError(t, err)
		wrong := SignerState{PublicKey: other.PublicKey(), IsActive: true}
		require.ErrorIs(t, Verify(p, clock.Now(), wrong), ErrBadSignature)
	})

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, Verify(p, clock.Now(), active))
	})
}

func TestTGE_Proof_ProofExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	prover := testProver(t, clock)
	owner := solana.NewWallet().PublicKey()

	p, err := prover.Issue(owner, 42)
	require.NoError(t, err)

	signer := SignerState{PublicKey: prover.PublicKey(), IsActive: true}
	require.NoError(t, Verify(p, clock.Now(), signer))

	clock.Advance(5*time.Minute + time.Second)
	require.ErrorIs(t, Verify(p, clock.Now(), signer), ErrExpiredProof)
}

func TestTGE_Proof_ProverNonceMonotonic(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	prover := testProver(t, clock)
	owner := solana.NewWallet().PublicKey()

	var last uint64
	for i := 0; i < 10; i++ {
		p, err := prover.Issue(owner, 1)
		require.NoError(t, err)
		require.Greater(t, p.Nonce, last)
		last = p.Nonce
	}
}

func TestTGE_Proof_ProverResumesFromStartNonce(t *testing.T) {
	t.Parallel()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	prover, err := NewProver(ProverConfig{
		Logger:     slog.Default(),
		Key:        key,
		ProofTTL:   time.Minute,
		StartNonce: 41,
	})
	require.NoError(t, err)

	p, err := prover.Issue(solana.NewWallet().PublicKey(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(42), p.Nonce)
}
