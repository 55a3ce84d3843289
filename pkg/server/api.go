package server

import "time"

// Wire types for the v1 API. Keys are base58, scores are decimal strings
// since they exceed 64 bits, signatures are base58 for proofs (matching the
// proof wire format) and base64 for admin request headers.

type ErrorResponse struct {
	Error string `json:"error"`
}

type CommitRequest struct {
	Owner          string `json:"owner"`
	Points         uint64 `json:"points"`
	CurrencyAmount uint64 `json:"currency_amount"`
	Nonce          uint64 `json:"nonce"`
	Expiry         int64  `json:"expiry"`
	Signature      string `json:"signature"`
}

type CommitResponse struct {
	Owner             string `json:"owner"`
	Points            uint64 `json:"points"`
	CurrencyAmount    uint64 `json:"currency_amount"`
	Score             string `json:"score"`
	Nonce             uint64 `json:"nonce"`
	TotalRaised       uint64 `json:"total_raised"`
	DistributionEnded bool   `json:"distribution_ended"`
}

type ClaimRequest struct {
	Owner string `json:"owner"`
}

type ClaimResponse struct {
	Owner       string `json:"owner"`
	TokenAmount uint64 `json:"token_amount"`
}

type SignerResponse struct {
	PublicKey    string `json:"public_key"`
	IsActive     bool   `json:"is_active"`
	NonceCounter uint64 `json:"nonce_counter"`
}

type StateResponse struct {
	Phase         string          `json:"phase"`
	Authority     string          `json:"authority,omitempty"`
	CommitEndTime *time.Time      `json:"commit_end_time,omitempty"`
	Rate          uint64          `json:"rate,omitempty"`
	TargetRaise   uint64          `json:"target_raise,omitempty"`
	TotalRaised   uint64          `json:"total_raised,omitempty"`
	TotalScore    string          `json:"total_score,omitempty"`
	TokenPoolSize uint64          `json:"token_pool_size,omitempty"`
	Signer        *SignerResponse `json:"signer,omitempty"`
}

type CommitmentResponse struct {
	Owner    string `json:"owner"`
	Points   uint64 `json:"points"`
	Currency uint64 `json:"currency"`
	Score    string `json:"score"`
	Claimed  bool   `json:"claimed"`
}

type InitializeRequest struct {
	CommitEndTime time.Time `json:"commit_end_time"`
	Rate          uint64    `json:"rate"`
	TargetRaise   uint64    `json:"target_raise"`
}

type FundVaultRequest struct {
	Amount uint64 `json:"amount"`
}

type InitializeSignerRequest struct {
	PublicKey string `json:"public_key"`
}

type UpdateSignerRequest struct {
	PublicKey *string `json:"public_key,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

type SetCommitEndTimeRequest struct {
	CommitEndTime time.Time `json:"commit_end_time"`
}

type WithdrawRequest struct {
	Amount uint64 `json:"amount"`
}
