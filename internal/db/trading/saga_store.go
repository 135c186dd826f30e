package tradingdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trading/internal/trading/saga"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SagaStore persists purchase saga instances and their outbox in Postgres.
type SagaStore struct {
	db *sql.DB
}

// NewSagaStore constructs a SagaStore backed by Postgres.
func NewSagaStore(db *sql.DB) *SagaStore {
	return &SagaStore{db: db}
}

// NewSagaStoreWithSchema initializes the schema then returns the store.
func NewSagaStoreWithSchema(ctx context.Context, db *sql.DB) (*SagaStore, error) {
	store := NewSagaStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates saga tables if they do not exist.
func (s *SagaStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS purchase_sagas (
			correlation_id UUID PRIMARY KEY,
			current_state TEXT NOT NULL,
			user_id UUID NOT NULL,
			item_id UUID NOT NULL,
			quantity INTEGER NOT NULL,
			purchase_total NUMERIC,
			received TIMESTAMPTZ NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL,
			error_message TEXT,
			version BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS purchase_outbox (
			id UUID PRIMARY KEY,
			correlation_id UUID NOT NULL,
			destination TEXT NOT NULL,
			message_type TEXT NOT NULL,
			payload BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			dispatched_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS purchase_outbox_pending_idx
			ON purchase_outbox (created_at) WHERE dispatched_at IS NULL`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Load returns the instance for correlationID or saga.ErrNotFound.
func (s *SagaStore) Load(ctx context.Context, correlationID uuid.UUID) (saga.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT correlation_id, current_state, user_id, item_id, quantity,
			purchase_total, received, last_updated, error_message, version
		FROM purchase_sagas
		WHERE correlation_id = $1`,
		correlationID,
	)

	var (
		inst   saga.Instance
		state  string
		total  decimal.NullDecimal
		reason sql.NullString
	)
	err := row.Scan(&inst.CorrelationID, &state, &inst.UserID, &inst.ItemID, &inst.Quantity,
		&total, &inst.Received, &inst.LastUpdated, &reason, &inst.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return saga.Instance{}, saga.ErrNotFound
	}
	if err != nil {
		return saga.Instance{}, err
	}
	inst.CurrentState = saga.State(state)
	if total.Valid {
		inst.PurchaseTotal = &total.Decimal
	}
	if reason.Valid {
		inst.ErrorMessage = &reason.String
	}
	return inst, nil
}

// Save writes inst and its outbox rows in one transaction. expectedVersion 0
// inserts; anything else updates only when the stored version still matches.
func (s *SagaStore) Save(ctx context.Context, inst saga.Instance, expectedVersion int64, outbox []saga.OutboxMessage) (saga.Instance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return saga.Instance{}, err
	}
	defer tx.Rollback()

	total := decimal.NullDecimal{}
	if inst.PurchaseTotal != nil {
		total = decimal.NullDecimal{Decimal: *inst.PurchaseTotal, Valid: true}
	}
	reason := sql.NullString{}
	if inst.ErrorMessage != nil {
		reason = sql.NullString{String: *inst.ErrorMessage, Valid: true}
	}
	next := expectedVersion + 1

	var res sql.Result
	if expectedVersion == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO purchase_sagas (correlation_id, current_state, user_id, item_id, quantity,
				purchase_total, received, last_updated, error_message, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (correlation_id) DO NOTHING`,
			inst.CorrelationID, string(inst.CurrentState), inst.UserID, inst.ItemID, inst.Quantity,
			total, inst.Received, inst.LastUpdated, reason, next,
		)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE purchase_sagas
			SET current_state = $2, purchase_total = $3, last_updated = $4,
				error_message = $5, version = $6
			WHERE correlation_id = $1 AND version = $7`,
			inst.CorrelationID, string(inst.CurrentState), total, inst.LastUpdated,
			reason, next, expectedVersion,
		)
	}
	if err != nil {
		return saga.Instance{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return saga.Instance{}, err
	}
	if affected == 0 {
		return saga.Instance{}, saga.ErrConcurrencyConflict
	}

	for _, msg := range outbox {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_outbox (id, correlation_id, destination, message_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			msg.ID, msg.CorrelationID, msg.Destination, msg.MessageType, msg.Payload, msg.CreatedAt,
		); err != nil {
			return saga.Instance{}, fmt.Errorf("stage %s: %w", msg.MessageType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return saga.Instance{}, err
	}
	saved := inst.Clone()
	saved.Version = next
	return saved, nil
}

// PendingOutbox returns undispatched messages, oldest first.
func (s *SagaStore) PendingOutbox(ctx context.Context, limit int) ([]saga.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, destination, message_type, payload, created_at
		FROM purchase_outbox
		WHERE dispatched_at IS NULL
		ORDER BY created_at
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []saga.OutboxMessage
	for rows.Next() {
		var msg saga.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.CorrelationID, &msg.Destination, &msg.MessageType, &msg.Payload, &msg.CreatedAt); err != nil {
			return nil, err
		}
		pending = append(pending, msg)
	}
	return pending, rows.Err()
}

// MarkDispatched stamps an outbox row as published.
func (s *SagaStore) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE purchase_outbox
		SET dispatched_at = NOW()
		WHERE id = $1 AND dispatched_at IS NULL`,
		id,
	)
	return err
}
