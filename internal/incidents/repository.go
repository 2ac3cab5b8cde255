package incidents

import (
	"context"
	"fmt"

	"github.com/datapulse/orchestrator/internal/domain"
)

// Repository defines the data access interface for incidents.
// Implementations return deep copies; Update is a compare-and-swap on Version.
type Repository interface {
	Create(ctx context.Context, incident *domain.Incident) error
	Get(ctx context.Context, id string) (*domain.Incident, error)
	Update(ctx context.Context, incident *domain.Incident) error
	List(ctx context.Context, filter IncidentFilter) ([]*domain.Incident, int, error)
	Ping(ctx context.Context) error
}

// SortField is a column incidents may be ordered by.
type SortField string

// Sortable fields.
const (
	SortCreatedAt  SortField = "created_at"
	SortDetectedAt SortField = "detected_at"
	SortSeverity   SortField = "severity"
	SortService    SortField = "service"
	SortStatus     SortField = "status"
)

// SortOrder is the direction of a sort.
type SortOrder string

// Sort directions.
const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Pagination constants.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// IncidentFilter represents filter options for listing incidents.
type IncidentFilter struct {
	Severity *domain.Severity
	Status   *domain.IncidentStatus
	Sort     SortField
	Order    SortOrder
	Limit    int
	Offset   int
}

// ParseSortField checks s against the allow-listed sort fields.
func ParseSortField(s string) (SortField, error) {
	switch f := SortField(s); f {
	case SortCreatedAt, SortDetectedAt, SortSeverity, SortService, SortStatus:
		return f, nil
	case "":
		return SortCreatedAt, nil
	}
	return "", validationError("unsupported sort field %q", s)
}

// ParseSortOrder checks s against asc/desc, defaulting to desc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(s); o {
	case OrderAsc, OrderDesc:
		return o, nil
	case "":
		return OrderDesc, nil
	}
	return "", validationError("unsupported sort order %q", s)
}

// Normalize fills defaults and checks bounds.
func (f *IncidentFilter) Normalize() error {
	if f.Limit == 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit < 1 || f.Limit > MaxListLimit {
		return validationError("limit must be between 1 and %d", MaxListLimit)
	}
	if f.Offset < 0 {
		return validationError("offset must be a non-negative integer")
	}
	if f.Sort == "" {
		f.Sort = SortCreatedAt
	}
	if f.Order == "" {
		f.Order = OrderDesc
	}
	if _, err := ParseSortField(string(f.Sort)); err != nil {
		return err
	}
	if _, err := ParseSortOrder(string(f.Order)); err != nil {
		return err
	}
	if f.Severity != nil && !f.Severity.IsValid() {
		return fmt.Errorf("%w: unknown severity %q", ErrValidation, *f.Severity)
	}
	return nil
}
