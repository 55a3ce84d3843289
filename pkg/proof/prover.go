package proof

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
)

// ProverConfig configures a Prover.
type ProverConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Key is the backend signing key whose public half is registered with
	// the distribution's backend signer record.
	Key solana.PrivateKey

	// ProofTTL bounds how long an issued proof stays valid.
	ProofTTL time.Duration

	// StartNonce seeds the nonce sequence; issued nonces are strictly
	// greater. Set it to the on-record nonce counter when resuming.
	StartNonce uint64
}

func (cfg *ProverConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(cfg.Key) == 0 {
		return errors.New("signing key is required")
	}
	if cfg.ProofTTL <= 0 {
		return errors.New("proof TTL must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Prover is the issuing side of the proof protocol: the off-chain
// qualification service that certifies point balances. Nonces are issued
// from a strictly increasing in-process counter; the engine's global nonce
// counter rejects anything at or below its high-water mark, so a restarted
// prover must be seeded with StartNonce from the signer record.
type Prover struct {
	log *slog.Logger
	cfg ProverConfig

	mu    sync.Mutex
	nonce uint64
}

// NewProver creates a Prover.
func NewProver(cfg ProverConfig) (*Prover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Prover{
		log:   cfg.Logger,
		cfg:   cfg,
		nonce: cfg.StartNonce,
	}, nil
}

// PublicKey returns the verifying key for issued proofs.
func (p *Prover) PublicKey() solana.PublicKey {
	return p.cfg.Key.PublicKey()
}

// Issue signs a proof authorizing the owner to commit the given points.
func (p *Prover) Issue(owner solana.PublicKey, points uint64) (Proof, error) {
	p.mu.Lock()
	p.nonce++
	nonce := p.nonce
	p.mu.Unlock()

	expiry := p.cfg.Clock.Now().Add(p.cfg.ProofTTL).Unix()
	msg := Message(owner, points, nonce, expiry)

	sig, err := p.cfg.Key.Sign(msg)
	if err != nil {
		return Proof{}, fmt.Errorf("failed to sign proof message: %w", err)
	}

	p.log.Debug("prover: issued proof",
		"owner", owner.String(), "points", points, "nonce", nonce, "expiry", expiry)

	return Proof{
		Owner:     owner,
		Points:    points,
		Nonce:     nonce,
		Expiry:    expiry,
		Signature: sig,
	}, nil
}
