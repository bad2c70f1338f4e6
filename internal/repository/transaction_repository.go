package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

const (
	protocolIndex = "ux_payment_transactions_protocol"
	externalIndex = "ux_payment_transactions_provider_external"

	transactionColumns = `id, protocol, provider, payment_method, amount, currency, status,
		external_id, entity_type, entity_id, metadata, created_at, updated_at`
)

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payment_transactions (
			id UUID PRIMARY KEY,
			protocol VARCHAR(64),
			provider VARCHAR(32) NOT NULL,
			payment_method VARCHAR(32) NOT NULL,
			amount NUMERIC(14,2) NOT NULL,
			currency CHAR(3) NOT NULL DEFAULT 'BRL',
			status VARCHAR(32) NOT NULL,
			previous_status VARCHAR(32),
			external_id VARCHAR(191),
			entity_type VARCHAR(40),
			entity_id VARCHAR(191),
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + protocolIndex + `
			ON payment_transactions(protocol) WHERE protocol IS NOT NULL AND protocol <> ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + externalIndex + `
			ON payment_transactions(provider, external_id) WHERE external_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_payment_transactions_status ON payment_transactions(status, updated_at)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func (r *TransactionRepository) Insert(ctx context.Context, tx *models.Transaction) error {
	meta, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO payment_transactions
			(id, protocol, provider, payment_method, amount, currency, status,
			 external_id, entity_type, entity_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, tx.ID, nullString(tx.Protocol), tx.Provider, tx.PaymentMethod, tx.Amount, tx.Currency, tx.Status,
		tx.ExternalID, nullString(string(tx.Entity.Kind)), nullString(tx.Entity.ID), meta, tx.CreatedAt, tx.UpdatedAt)
	return translateUniqueViolation(err)
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id)
}

func (r *TransactionRepository) GetByProtocol(ctx context.Context, protocol string) (*models.Transaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE protocol = $1`, protocol)
}

func (r *TransactionRepository) GetByExternalID(ctx context.Context, provider models.Provider, externalID string) (*models.Transaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM payment_transactions
		WHERE provider = $1 AND external_id = $2`, provider, externalID)
}

func (r *TransactionRepository) TransitionStatus(ctx context.Context, id string, from, to models.Status, patch models.Metadata) (int64, error) {
	meta, err := encodeMetadata(patch)
	if err != nil {
		return 0, err
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $1, previous_status = $2, metadata = metadata || $3::jsonb, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, to, from, meta, id, from)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *TransactionRepository) AttachExternalID(ctx context.Context, id, externalID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_transactions SET external_id = $1, updated_at = NOW()
		WHERE id = $2 AND external_id IS NULL
	`, externalID, id)
	if err != nil {
		return 0, translateUniqueViolation(err)
	}
	return result.RowsAffected()
}

func (r *TransactionRepository) MergeMetadata(ctx context.Context, id string, patch models.Metadata) error {
	meta, err := encodeMetadata(patch)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE payment_transactions SET metadata = metadata || $1::jsonb, updated_at = NOW() WHERE id = $2
	`, meta, id)
	return err
}

func (r *TransactionRepository) SetProtocol(ctx context.Context, id, protocol string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_transactions SET protocol = $1, updated_at = NOW()
		WHERE id = $2 AND (protocol IS NULL OR protocol = '')
	`, protocol, id)
	if err != nil {
		return 0, translateUniqueViolation(err)
	}
	return result.RowsAffected()
}

func (r *TransactionRepository) LinkEntity(ctx context.Context, id string, ref models.EntityRef, patch models.Metadata) (int64, error) {
	meta, err := encodeMetadata(patch)
	if err != nil {
		return 0, err
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET entity_type = $1, entity_id = $2, metadata = metadata || $3::jsonb, updated_at = NOW()
		WHERE id = $4 AND (entity_id IS NULL OR entity_id = '')
	`, ref.Kind, ref.ID, meta, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *TransactionRepository) ListMissingProtocol(ctx context.Context, limit int) ([]models.Transaction, error) {
	return r.list(ctx, `SELECT `+transactionColumns+` FROM payment_transactions
		WHERE protocol IS NULL OR protocol = '' ORDER BY created_at LIMIT $1`, limit)
}

func (r *TransactionRepository) ListUnlinked(ctx context.Context, afterCreated time.Time, afterID string, limit int) ([]models.Transaction, error) {
	if afterID == "" {
		afterID = "00000000-0000-0000-0000-000000000000"
	}
	return r.list(ctx, `SELECT `+transactionColumns+` FROM payment_transactions
		WHERE (entity_id IS NULL OR entity_id = '') AND protocol IS NOT NULL AND protocol <> ''
			AND NOT (metadata ? 'reconciliation')
			AND (created_at, id) > ($1, $2::uuid)
		ORDER BY created_at, id LIMIT $3`, afterCreated, afterID, limit)
}

func (r *TransactionRepository) ListStale(ctx context.Context, statuses []models.Status, updatedBefore time.Time, limit int) ([]models.Transaction, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return r.list(ctx, `SELECT `+transactionColumns+` FROM payment_transactions
		WHERE status = ANY($1) AND updated_at < $2 ORDER BY updated_at LIMIT $3`,
		pq.Array(names), updatedBefore, limit)
}

func (r *TransactionRepository) getOne(ctx context.Context, query string, args ...any) (*models.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return tx, err
}

func (r *TransactionRepository) list(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		tx                                 models.Transaction
		protocol, external, entType, entID sql.NullString
		meta                               []byte
	)
	err := row.Scan(&tx.ID, &protocol, &tx.Provider, &tx.PaymentMethod, &tx.Amount, &tx.Currency, &tx.Status,
		&external, &entType, &entID, &meta, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tx.Protocol = protocol.String
	if external.Valid {
		v := external.String
		tx.ExternalID = &v
	}
	tx.Entity = models.EntityRef{Kind: models.EntityKind(entType.String), ID: entID.String}
	tx.Currency = strings.TrimSpace(tx.Currency)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", tx.ID, err)
		}
	}
	return &tx, nil
}

func encodeMetadata(m models.Metadata) ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch pqErr.Constraint {
	case protocolIndex:
		return fmt.Errorf("%w: %s", models.ErrProtocolConflict, pqErr.Detail)
	case externalIndex:
		return fmt.Errorf("%w: %s", models.ErrExternalIDConflict, pqErr.Detail)
	}
	return err
}
