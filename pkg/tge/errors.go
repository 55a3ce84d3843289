package tge

import (
	"errors"

	"github.com/sparkchain/tge/pkg/ledger"
	"github.com/sparkchain/tge/pkg/proof"
)

var (
	// ErrUnauthorized is returned when the caller is not the required
	// authority for an admin operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotInitialized is returned when an operation requires a
	// distribution record that does not exist yet.
	ErrNotInitialized = errors.New("distribution not initialized")

	// ErrAlreadyInitialized is returned on a second initialization of a
	// singleton record.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrDistributionNotActive is returned when a commit arrives outside
	// the active phase.
	ErrDistributionNotActive = errors.New("distribution is not active")

	// ErrCommitPeriodEnded is returned when a commit arrives at or after
	// the commit deadline.
	ErrCommitPeriodEnded = errors.New("commit period has ended")

	// ErrBackendInactive is returned when the backend signer record is
	// missing or disabled.
	ErrBackendInactive = errors.New("backend signer is inactive")

	// ErrInsufficientCurrencyCommitment is returned when the pledged
	// currency does not cover the rate-derived minimum for the points.
	ErrInsufficientCurrencyCommitment = errors.New("insufficient currency commitment")

	// ErrNoDistribution is returned on claim when no score has accrued.
	ErrNoDistribution = errors.New("nothing was distributed")

	// ErrNoCommitments is returned on claim when the caller never
	// committed.
	ErrNoCommitments = errors.New("no commitments for owner")

	// ErrAlreadyClaimed is returned on a second claim by the same owner.
	ErrAlreadyClaimed = errors.New("tokens already claimed")

	// ErrWithdrawConditionsNotMet is returned when the authority withdraws
	// while the distribution is still active.
	ErrWithdrawConditionsNotMet = errors.New("withdraw conditions not met")

	// ErrInvalidRate is returned for a zero conversion rate.
	ErrInvalidRate = errors.New("rate must be greater than 0")

	// ErrInvalidEndTime is returned when a new commit deadline falls
	// outside the allowed extension window.
	ErrInvalidEndTime = errors.New("invalid commit end time")

	// ErrArithmeticOverflow is returned when an aggregate counter would
	// exceed its range.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
)

// Proof and ledger failures surface unchanged so callers can match them
// without importing the subpackages.
var (
	ErrExpiredProof        = proof.ErrExpiredProof
	ErrInvalidNonce        = proof.ErrInvalidNonce
	ErrSignerInactive      = proof.ErrSignerInactive
	ErrBadSignature        = proof.ErrBadSignature
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
)
