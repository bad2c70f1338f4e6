package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS webhook_events (
			id BIGSERIAL PRIMARY KEY,
			source VARCHAR(32) NOT NULL,
			event_id VARCHAR(191) NOT NULL,
			event_kind VARCHAR(32) NOT NULL,
			payload TEXT NOT NULL,
			signature_valid BOOLEAN NOT NULL DEFAULT FALSE,
			stage VARCHAR(16) NOT NULL,
			processing_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (source, event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id BIGSERIAL PRIMARY KEY,
			instance VARCHAR(100) NOT NULL,
			message_id VARCHAR(191) NOT NULL,
			remote_jid VARCHAR(191),
			status VARCHAR(32) NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_message ON notifications(message_id)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// RecordWebhook inserts the audit row. On a (source, event_id) conflict it
// loads the existing row's id and stage into audit and reports false.
func (r *AuditRepository) RecordWebhook(ctx context.Context, audit *models.WebhookAudit) (bool, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO webhook_events (source, event_id, event_kind, payload, signature_valid, stage)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source, event_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`, audit.Source, audit.EventID, audit.EventKind, audit.Payload, audit.SignatureValid, audit.Stage).
		Scan(&audit.ID, &audit.CreatedAt, &audit.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, r.db.QueryRowContext(ctx, `
			SELECT id, stage, signature_valid, created_at, updated_at
			FROM webhook_events WHERE source = $1 AND event_id = $2
		`, audit.Source, audit.EventID).
			Scan(&audit.ID, &audit.Stage, &audit.SignatureValid, &audit.CreatedAt, &audit.UpdatedAt)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *AuditRepository) UpdateWebhookStage(ctx context.Context, id int64, stage models.WebhookStage, processingError string) error {
	verified := stage == models.StageVerified || stage == models.StageDispatched
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET stage = $1, processing_error = NULLIF($2, ''), signature_valid = signature_valid OR $3, updated_at = NOW()
		WHERE id = $4
	`, stage, processingError, verified, id)
	return err
}

func (r *AuditRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (instance, message_id, remote_jid, status, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, n.Instance, n.MessageID, n.RemoteJID, n.Status, n.Payload).Scan(&n.ID, &n.CreatedAt)
}
