// Package client is a typed HTTP client for the distribution service, with
// retrying transport and signed admin requests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/sparkchain/tge/pkg/proof"
	"github.com/sparkchain/tge/pkg/retry"
	"github.com/sparkchain/tge/pkg/server"
	"github.com/sparkchain/tge/pkg/tge"
)

// Config configures a Client.
type Config struct {
	Logger  *slog.Logger
	BaseURL string

	// AdminKey signs admin requests; leave unset for participant-only use.
	AdminKey solana.PrivateKey

	HTTPClient *http.Client
	Retry      retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		return errors.New("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Client talks to the distribution service.
type Client struct {
	log *slog.Logger
	cfg Config
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Client{log: cfg.Logger, cfg: cfg}, nil
}

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// StatusCode reports the HTTP status, used by the retry layer to decide
// retryability.
func (e *APIError) StatusCode() int { return e.Status }

// State returns the distribution state snapshot.
func (c *Client) State(ctx context.Context) (*server.StateResponse, error) {
	var out server.StateResponse
	if err := c.do(ctx, http.MethodGet, "/v1/state", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Commitment returns a participant's commitment record.
func (c *Client) Commitment(ctx context.Context, owner solana.PublicKey) (*server.CommitmentResponse, error) {
	var out server.CommitmentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/commitments/"+owner.String(), nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events returns journal entries newest first, optionally filtered by kind.
func (c *Client) Events(ctx context.Context, kind string, limit int) ([]tge.Event, error) {
	path := "/v1/events?limit=" + strconv.Itoa(limit)
	if kind != "" {
		path += "&kind=" + url.QueryEscape(kind)
	}
	var out []tge.Event
	if err := c.do(ctx, http.MethodGet, path, nil, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Commit submits a proof-backed pledge.
func (c *Client) Commit(ctx context.Context, req server.CommitRequest) (*server.CommitResponse, error) {
	var out server.CommitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/commits", req, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CommitProof submits a pledge built from an issued proof.
func (c *Client) CommitProof(ctx context.Context, p proof.Proof, currencyAmount uint64) (*server.CommitResponse, error) {
	return c.Commit(ctx, server.CommitRequest{
		Owner:          p.Owner.String(),
		Points:         p.Points,
		CurrencyAmount: currencyAmount,
		Nonce:          p.Nonce,
		Expiry:         p.Expiry,
		Signature:      p.Signature.String(),
	})
}

// Claim pays out the owner's pro-rata token share.
func (c *Client) Claim(ctx context.Context, owner solana.PublicKey) (*server.ClaimResponse, error) {
	var out server.ClaimResponse
	if err := c.do(ctx, http.MethodPost, "/v1/claims", server.ClaimRequest{Owner: owner.String()}, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Initialize creates the distribution. The configured admin key becomes the
// authority.
func (c *Client) Initialize(ctx context.Context, commitEndTime time.Time, rate, targetRaise uint64) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/initialize", server.InitializeRequest{
		CommitEndTime: commitEndTime,
		Rate:          rate,
		TargetRaise:   targetRaise,
	}, true, nil)
}

// CreateVault provisions the reward token vault.
func (c *Client) CreateVault(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/vault", nil, true, nil)
}

// FundVault tops up the reward token pool.
func (c *Client) FundVault(ctx context.Context, amount uint64) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/vault/fund", server.FundVaultRequest{Amount: amount}, true, nil)
}

// InitializeSigner registers the backend proof-issuing key.
func (c *Client) InitializeSigner(ctx context.Context, publicKey solana.PublicKey) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/signer", server.InitializeSignerRequest{
		PublicKey: publicKey.String(),
	}, true, nil)
}

// UpdateSigner rotates the backend key and/or toggles its active flag.
func (c *Client) UpdateSigner(ctx context.Context, newKey *solana.PublicKey, isActive *bool) error {
	req := server.UpdateSignerRequest{IsActive: isActive}
	if newKey != nil {
		k := newKey.String()
		req.PublicKey = &k
	}
	return c.do(ctx, http.MethodPatch, "/v1/admin/signer", req, true, nil)
}

// SetCommitEndTime moves the commit deadline.
func (c *Client) SetCommitEndTime(ctx context.Context, commitEndTime time.Time) error {
	return c.do(ctx, http.MethodPut, "/v1/admin/commit-end-time", server.SetCommitEndTimeRequest{
		CommitEndTime: commitEndTime,
	}, true, nil)
}

// Withdraw moves raised currency to the authority after the distribution
// ends.
func (c *Client) Withdraw(ctx context.Context, amount uint64) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/withdraw", server.WithdrawRequest{Amount: amount}, true, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, admin bool, out any) error {
	if admin && len(c.cfg.AdminKey) == 0 {
		return errors.New("admin key is required for admin requests")
	}

	var payload []byte
	if body != nil || admin {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	return retry.Do(ctx, c.cfg.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if admin {
			if err := server.SignAdminRequest(req, c.cfg.AdminKey, payload); err != nil {
				return err
			}
		}

		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			var apiErr server.ErrorResponse
			if derr := json.NewDecoder(resp.Body).Decode(&apiErr); derr != nil || apiErr.Error == "" {
				apiErr.Error = http.StatusText(resp.StatusCode)
			}
			return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}
