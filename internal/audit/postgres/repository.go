// Package postgres provides the PostgreSQL audit log.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/datapulse/orchestrator/internal/audit"
	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements audit.Repository using PostgreSQL. Rows are only ever inserted.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL audit repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Append chains the record to the incident's last record and inserts it.
// A transaction-scoped advisory lock on the incident id serializes chain writers.
func (r *Repository) Append(ctx context.Context, record domain.AuditRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, record.IncidentID); err != nil {
		return fmt.Errorf("lock audit chain: %w", err)
	}

	prevHash := audit.GenesisHash
	err = tx.QueryRow(ctx, `
		SELECT hash FROM audit_records
		WHERE incident_id = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, record.IncidentID).Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("get chain tail: %w", err)
	}

	sealed, err := audit.Seal(record, prevHash)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_records (id, kind, incident_id, action_id, recorded_at, prev_hash, hash, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		sealed.ID,
		sealed.Kind,
		sealed.IncidentID,
		sealed.ActionID,
		sealed.Timestamp,
		sealed.PrevHash,
		sealed.Hash,
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListByIncident returns the records of one incident in append order.
func (r *Repository) ListByIncident(ctx context.Context, incidentID string) ([]domain.AuditRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT sequence, record
		FROM audit_records
		WHERE incident_id = $1
		ORDER BY sequence ASC
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.AuditRecord, 0)
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		var rec domain.AuditRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		rec.Sequence = seq
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}

	return records, nil
}
