package structure

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Node) error
	Update(ctx context.Context, n *Node) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*Node, error)

	// FindByCode returns every node matching (kind, code) within the
	// juridical entity scope; ejID nil searches across all entities.
	FindByCode(ctx context.Context, kind Kind, code string, ejID *uuid.UUID) ([]*Node, error)
	Children(ctx context.Context, parentID uuid.UUID) ([]*Node, error)
}
