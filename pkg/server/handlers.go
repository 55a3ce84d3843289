package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"github.com/sparkchain/tge/pkg/tge"
)

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.State(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := StateResponse{Phase: string(view.Phase)}
	if view.State != nil {
		endTime := view.State.CommitEndTime
		resp.Authority = view.State.Authority.String()
		resp.CommitEndTime = &endTime
		resp.Rate = view.State.Rate
		resp.TargetRaise = view.State.TargetRaise
		resp.TotalRaised = view.State.TotalRaised
		resp.TotalScore = view.State.TotalScore.Dec()
		resp.TokenPoolSize = view.State.TokenPoolSize
	}
	if view.Signer != nil {
		resp.Signer = &SignerResponse{
			PublicKey:    view.Signer.PublicKey.String(),
			IsActive:     view.Signer.IsActive,
			NonceCounter: view.Signer.NonceCounter,
		}
	}
	writeJSON(s.log, w, http.StatusOK, resp)
}

func (s *Server) handleGetCommitment(w http.ResponseWriter, r *http.Request) {
	owner, err := solana.PublicKeyFromBase58(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid owner key: %w", err))
		return
	}

	uc, err := s.engine.Commitment(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, CommitmentResponse{
		Owner:    uc.Owner.String(),
		Points:   uc.Points,
		Currency: uc.Currency,
		Score:    uc.Score.Dec(),
		Claimed:  uc.Claimed,
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %w", err))
			return
		}
		limit = n
	}

	events, err := s.engine.Events(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []tge.Event{}
	}
	writeJSON(s.log, w, http.StatusOK, events)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	owner, err := solana.PublicKeyFromBase58(req.Owner)
	if err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid owner key: %w", err))
		return
	}
	sig, err := solana.SignatureFromBase58(req.Signature)
	if err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid signature encoding: %w", err))
		return
	}

	receipt, err := s.engine.CommitResources(r.Context(), tge.CommitRequest{
		Owner:          owner,
		Points:         req.Points,
		CurrencyAmount: req.CurrencyAmount,
		Nonce:          req.Nonce,
		Expiry:         req.Expiry,
		Signature:      sig,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, CommitResponse{
		Owner:             receipt.Owner.String(),
		Points:            receipt.Points,
		CurrencyAmount:    receipt.CurrencyAmount,
		Score:             receipt.Score.Dec(),
		Nonce:             receipt.Nonce,
		TotalRaised:       receipt.TotalRaised,
		DistributionEnded: receipt.DistributionEnded,
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	owner, err := solana.PublicKeyFromBase58(req.Owner)
	if err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid owner key: %w", err))
		return
	}

	receipt, err := s.engine.ClaimTokens(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, ClaimResponse{
		Owner:       receipt.Owner.String(),
		TokenAmount: receipt.TokenAmount,
	})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, caller solana.PublicKey, body []byte) {
	var req InitializeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.engine.Initialize(r.Context(), caller, req.CommitEndTime, req.Rate, req.TargetRaise); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.log, w, http.StatusCreated, map[string]string{"status": "initialized"})
}

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request, caller solana.PublicKey, body []byte) {
	if err := s.engine.CreateVault(r.Context(), caller); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.log, w, http.StatusCreated, map[string]string{"status": "vault created"})
}

func (s *Server) handleFundVault(w http.ResponseWriter, r *http.Request, caller solana.PublicKey, body []byte) {
	var req FundVaultRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.engine.FundVault(r.Context(), caller, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, map[string]string{"status": "vault funded"})
}

func (s *Server) handleInitializeSigner(w http.ResponseWriter, r *http.Request, caller solana.PublicKey, body []byte) {
	var req InitializeSignerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	key, err := solana.PublicKeyFromBase58(req.PublicKey)
	if err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid signer key: %w", err))
		return
	}
	if err := s.engine.InitializeBackendSigner(r.Context(), caller, key); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.log, w, http.StatusCreated, map[string]string{"status": "signer initialized"})
}

func (s *Server) handleUpdateSigner(w http.ResponseWriter, r *http.Request, caller solana.PublicKey, body []byte) {
	var req UpdateSignerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	var newKey *solana.PublicKey
	if req.PublicKey != nil {
		key, err := solana.PublicKeyFromBase58(*req.PublicKey)
		if err != nil {
			s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid signer key: %w", err))
			return
		}
		newKey = &key
	}
	if err := s.engine.UpdateBackendSigner(r.Context(), caller, newKey, req.IsActive); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, map[string]string{"status": "signer updated"})
}

func (s *Server) handleSetCommitEndTime(w http.ResponseWriter, r *http.Request, caller solana.PublicKey, body []byte) {
	var req SetCommitEndTimeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.engine.SetCommitEndTime(r.Context(), caller, req.CommitEndTime); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, map[string]string{"status": "commit end time updated"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, caller solana.PublicKey, body []byte) {
	var req WithdrawRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.engine.Withdraw(r.Context(), caller, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(s.log, w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// statusFromError maps engine errors onto HTTP statuses. Nonce conflicts map
// to 409 so clients retry with a fresh proof; lifecycle and accounting
// rejections are 422 since the request was well-formed but unprocessable.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, tge.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, tge.ErrBadSignature),
		errors.Is(err, tge.ErrExpiredProof),
		errors.Is(err, tge.ErrSignerInactive):
		return http.StatusForbidden
	case errors.Is(err, tge.ErrNotInitialized),
		errors.Is(err, tge.ErrNoCommitments):
		return http.StatusNotFound
	case errors.Is(err, tge.ErrAlreadyInitialized),
		errors.Is(err, tge.ErrAlreadyClaimed),
		errors.Is(err, tge.ErrInvalidNonce):
		return http.StatusConflict
	case errors.Is(err, tge.ErrInvalidRate),
		errors.Is(err, tge.ErrInvalidEndTime):
		return http.StatusBadRequest
	case errors.Is(err, tge.ErrDistributionNotActive),
		errors.Is(err, tge.ErrCommitPeriodEnded),
		errors.Is(err, tge.ErrBackendInactive),
		errors.Is(err, tge.ErrWithdrawConditionsNotMet),
		errors.Is(err, tge.ErrInsufficientCurrencyCommitment),
		errors.Is(err, tge.ErrInsufficientBalance),
		errors.Is(err, tge.ErrNoDistribution),
		errors.Is(err, tge.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		s.log.Error("server: internal error", "error", err)
		writeJSON(s.log, w, status, ErrorResponse{Error: "internal server error"})
		return
	}
	s.writeErrorStatus(w, status, err)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, status int, err error) {
	writeJSON(s.log, w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(log *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to write json response", "error", err)
	}
}
