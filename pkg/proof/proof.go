// Package proof implements the commitment proof protocol: the qualification
// backend signs time-boxed, nonce-tagged authorizations off-line, and the
// engine verifies them before accepting a commit. The two sides share only
// the serialized message format.
package proof

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
)

// MessagePrefix is the domain-separation tag of the signed proof message.
// Changing it is a breaking change for the backend service issuing proofs.
const MessagePrefix = "POINTS_DEDUCTION_PROOF:"

var (
	// ErrExpiredProof is returned when the proof expiry is not in the future.
	ErrExpiredProof = errors.New("proof has expired")
	// ErrInvalidNonce is returned when the proof nonce does not advance the
	// signer's global nonce counter.
	ErrInvalidNonce = errors.New("invalid nonce")
	// ErrSignerInactive is returned when the backend signer is disabled.
	ErrSignerInactive = errors.New("backend signer is inactive")
	// ErrBadSignature is returned when the signature does not verify against
	// the backend public key.
	ErrBadSignature = errors.New("invalid proof signature")
)

// Proof is a signed, time-boxed commit authorization. It is ephemeral: only
// its nonce and the resulting score delta survive into persistent state.
type Proof struct {
	Owner     solana.PublicKey
	Points    uint64
	Nonce     uint64
	Expiry    int64 // unix seconds
	Signature solana.Signature
}

// SignerState is the verifier's view of the backend signer record.
type SignerState struct {
	PublicKey    solana.PublicKey
	NonceCounter uint64
	IsActive     bool
}

// Message builds the canonical signed message:
// prefix ∥ owner (32 bytes) ∥ points LE64 ∥ nonce LE64 ∥ expiry LE64.
// The encoding is injective over (owner, points, nonce, expiry).
func Message(owner solana.PublicKey, points, nonce uint64, expiry int64) []byte {
	msg := make([]byte, 0, len(MessagePrefix)+32+8+8+8)
	msg = append(msg, MessagePrefix...)
	msg = append(msg, owner[:]...)
	msg = binary.LittleEndian.AppendUint64(msg, points)
	msg = binary.LittleEndian.AppendUint64(msg, nonce)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(expiry))
	return msg
}

// Verify checks a proof against the signer state at the given time. Checks
// run in a fixed order so callers get a deterministic failure kind: expiry,
// nonce, signer activity, then signature.
func Verify(p Proof, now time.Time, signer SignerState) error {
	if p.Expiry <= now.Unix() {
		return ErrExpiredProof
	}
	if p.Nonce <= signer.NonceCounter {
		return ErrInvalidNonce
	}
	if !signer.IsActive {
		return ErrSignerInactive
	}
	msg := Message(p.Owner, p.Points, p.Nonce, p.Expiry)
	if !ed25519.Verify(ed25519.PublicKey(signer.PublicKey[:]), msg, p.Signature[:]) {
		return ErrBadSignature
	}
	return nil
}
