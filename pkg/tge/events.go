package tge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sparkchain/tge/pkg/ledger"
)

// EventKind identifies an entry in the protocol event journal.
type EventKind string

const (
	EventInitialized              EventKind = "initialized"
	EventBackendSignerInitialized EventKind = "backend_signer_initialized"
	EventBackendSignerUpdated     EventKind = "backend_signer_updated"
	EventVaultCreated             EventKind = "vault_created"
	EventVaultFunded              EventKind = "vault_funded"
	EventCommitEndTimeUpdated     EventKind = "commit_end_time_updated"
	EventResourcesCommitted       EventKind = "resources_committed"
	EventTargetRaiseReached       EventKind = "target_raise_reached"
	EventTokensClaimed            EventKind = "tokens_claimed"
	EventCurrencyWithdrawn        EventKind = "currency_withdrawn"
)

// Event is a journal entry. Payloads are operation-specific JSON documents
// written in the same transaction as the state change they describe.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// AppendEvent journals an event in the caller's transaction.
func (s *Store) AppendEvent(ctx context.Context, db ledger.DB, kind EventKind, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	_, err = db.Exec(ctx,
		`INSERT INTO events (id, kind, payload) VALUES ($1, $2, $3)`,
		uuid.New(), string(kind), body)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns journal entries newest first, optionally filtered by
// kind.
func (s *Store) ListEvents(ctx context.Context, pool *pgxpool.Pool, kind string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := `SELECT id, kind, payload, created_at FROM events`
	args := []any{limit}
	if kind != "" {
		q += ` WHERE kind = $2`
		args = append(args, kind)
	}
	q += ` ORDER BY created_at DESC, id LIMIT $1`

	rows, err := pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
