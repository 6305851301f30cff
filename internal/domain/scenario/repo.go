package scenario

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// SaveTemplate inserts or fully replaces a template with its steps in
	// one atomic operation.
	SaveTemplate(ctx context.Context, t *Template) error
	DeleteTemplate(ctx context.Context, id uuid.UUID) error
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	// FindTemplateByKey returns nil (no error) when unknown.
	FindTemplateByKey(ctx context.Context, key string) (*Template, error)
	ListTemplates(ctx context.Context) ([]*Template, error)

	CreateRun(ctx context.Context, r *Run) error
	UpdateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	RunsForTemplate(ctx context.Context, key string, since *time.Time) ([]*Run, error)

	AddRunStep(ctx context.Context, s *RunStep) error
	UpdateRunStep(ctx context.Context, s *RunStep) error
}
