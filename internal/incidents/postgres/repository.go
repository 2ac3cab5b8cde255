// Package postgres provides PostgreSQL implementation of the incident repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/datapulse/orchestrator/internal/domain"
	"github.com/datapulse/orchestrator/internal/incidents"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// sortColumns maps allow-listed sort fields to SQL expressions.
var sortColumns = map[incidents.SortField]string{
	incidents.SortCreatedAt:  "created_at",
	incidents.SortDetectedAt: "detected_at",
	incidents.SortService:    "service",
	incidents.SortStatus:     "status",
	incidents.SortSeverity: `CASE severity
		WHEN 'critical' THEN 4
		WHEN 'high' THEN 3
		WHEN 'medium' THEN 2
		WHEN 'low' THEN 1
		ELSE 0 END`,
}

// Repository implements incidents.Repository using PostgreSQL. Each incident
// is one JSONB document with its searchable fields copied into indexed columns.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new incident at version 1.
func (r *Repository) Create(ctx context.Context, incident *domain.Incident) error {
	doc := incident.Clone()
	doc.Version = 1
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO incidents (id, severity, status, service, detected_at, created_at, updated_at, version, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
	`,
		doc.ID,
		doc.Severity,
		doc.Status,
		doc.Service,
		doc.DetectedAt,
		doc.CreatedAt,
		doc.UpdatedAt,
		payload,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return incidents.ErrIncidentExists
		}
		return fmt.Errorf("create incident: %w", err)
	}

	incident.Version = 1
	return nil
}

// Get retrieves an incident by id.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Incident, error) {
	var (
		payload []byte
		version int64
	)
	err := r.db.QueryRow(ctx, `SELECT document, version FROM incidents WHERE id = $1`, id).Scan(&payload, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}

	return decode(payload, version)
}

// Update writes the incident only if the stored version still equals incident.Version.
func (r *Repository) Update(ctx context.Context, incident *domain.Incident) error {
	doc := incident.Clone()
	doc.Version = incident.Version + 1
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE incidents
		SET severity = $3, status = $4, service = $5, detected_at = $6, updated_at = $7,
			document = $8, version = version + 1
		WHERE id = $1 AND version = $2
	`,
		doc.ID,
		incident.Version,
		doc.Severity,
		doc.Status,
		doc.Service,
		doc.DetectedAt,
		doc.UpdatedAt,
		payload,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM incidents WHERE id = $1)`, doc.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check incident exists: %w", err)
		}
		if !exists {
			return incidents.ErrIncidentNotFound
		}
		return incidents.ErrVersionConflict
	}

	incident.Version = doc.Version
	return nil
}

// List retrieves incidents with optional filters.
func (r *Repository) List(ctx context.Context, filter incidents.IncidentFilter) ([]*domain.Incident, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	if filter.Severity != nil {
		where += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, *filter.Severity)
		argNum++
	}

	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM incidents"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}

	column, ok := sortColumns[filter.Sort]
	if !ok {
		column = sortColumns[incidents.SortCreatedAt]
	}
	direction := "DESC"
	if filter.Order == incidents.OrderAsc {
		direction = "ASC"
	}

	query := "SELECT document, version FROM incidents" + where +
		fmt.Sprintf(" ORDER BY %s %s, id %s", column, direction, direction)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Incident, 0)
	for rows.Next() {
		var (
			payload []byte
			version int64
		)
		if err := rows.Scan(&payload, &version); err != nil {
			return nil, 0, fmt.Errorf("scan incident: %w", err)
		}
		incident, err := decode(payload, version)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate incidents: %w", err)
	}

	return items, total, nil
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func decode(payload []byte, version int64) (*domain.Incident, error) {
	var incident domain.Incident
	if err := json.Unmarshal(payload, &incident); err != nil {
		return nil, fmt.Errorf("decode incident: %w", err)
	}
	incident.Version = version
	return &incident, nil
}
