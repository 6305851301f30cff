package messagelog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows List queries.
type Filter struct {
	Status     Status
	Direction  Direction
	EndpointID *uuid.UUID
	Since      *time.Time
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	// FindByControlID returns nil (no error) when unknown.
	FindByControlID(ctx context.Context, controlID string) (*Entry, error)
	FindByCorrelationID(ctx context.Context, correlationID string) ([]*Entry, error)
	UpdateStatus(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) ([]*Entry, error)
}
