// Package tge implements the commitment-and-distribution state machine:
// participants pledge base currency against backend-certified points, accrue
// a blended score, and claim a pro-rata share of a fixed reward token pool
// once the distribution ends. Every operation runs as one serializable
// PostgreSQL transaction; any failed precondition rolls back completely.
package tge

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
)

const (
	// RateScale is the fixed-point scale of DistributionState.Rate:
	// a rate of 1e9 means one currency unit required per point.
	RateScale = 1_000_000_000

	// PointsWeight is the weighting of points in the blended score:
	// scoreDelta = currencyAmount + points*PointsWeight.
	PointsWeight = 100

	// MaxDeadlineExtension bounds how far an admin may move the commit
	// deadline past the currently configured one.
	MaxDeadlineExtension = 30 * 24 * time.Hour
)

// Singleton record identifiers.
const (
	stateID  = "global"
	signerID = "global"
)

// Phase is the lifecycle phase of the distribution.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseActive        Phase = "active"
	PhaseEnded         Phase = "ended"
)

// DistributionState is the global distribution record.
type DistributionState struct {
	Authority     solana.PublicKey
	IsActive      bool
	CommitEndTime time.Time
	Rate          uint64 // fixed-point, RateScale
	TargetRaise   uint64
	TotalRaised   uint64
	TotalScore    *uint256.Int
	TokenPoolSize uint64
}

// Phase returns the lifecycle phase of the record; a nil receiver reads as
// uninitialized.
func (s *DistributionState) Phase() Phase {
	switch {
	case s == nil:
		return PhaseUninitialized
	case s.IsActive:
		return PhaseActive
	default:
		return PhaseEnded
	}
}

// BackendSigner is the trusted proof-issuing key record with the global
// monotonic nonce counter.
type BackendSigner struct {
	OwnerAuthority solana.PublicKey
	PublicKey      solana.PublicKey
	IsActive       bool
	NonceCounter   uint64
}

// UserCommitment is the per-participant ledger entry. Created on the first
// accepted commit, accumulated by every subsequent one, consumed exactly
// once by a claim.
type UserCommitment struct {
	Owner    solana.PublicKey
	Points   uint64
	Currency uint64
	Score    *uint256.Int
	Claimed  bool
}

// CommitRequest carries a commit submission: the pledge plus the ephemeral
// proof fields. Only the nonce and the resulting score delta survive into
// persistent state.
type CommitRequest struct {
	Owner          solana.PublicKey
	Points         uint64
	CurrencyAmount uint64
	Nonce          uint64
	Expiry         int64 // unix seconds
	Signature      solana.Signature
}

// CommitReceipt reports the outcome of an accepted commit.
type CommitReceipt struct {
	Owner             solana.PublicKey
	Points            uint64
	CurrencyAmount    uint64
	Score             *uint256.Int // cumulative participant score
	Nonce             uint64
	TotalRaised       uint64
	DistributionEnded bool
}

// ClaimReceipt reports the outcome of an accepted claim.
type ClaimReceipt struct {
	Owner       solana.PublicKey
	TokenAmount uint64
}

// StateView is a read-only snapshot of the global records.
type StateView struct {
	Phase  Phase
	State  *DistributionState
	Signer *BackendSigner
}
