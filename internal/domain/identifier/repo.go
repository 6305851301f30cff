package identifier

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateNamespace(ctx context.Context, ns *Namespace) error
	GetNamespace(ctx context.Context, id uuid.UUID) (*Namespace, error)
	GetNamespaceByTypeAndEntity(ctx context.Context, t Type, juridicalEntityID *uuid.UUID) (*Namespace, error)
	ListNamespaces(ctx context.Context) ([]*Namespace, error)

	// Exists reports whether value is already assigned for (type, system).
	Exists(ctx context.Context, t Type, system, value string) (bool, error)
	Insert(ctx context.Context, ident *Identifier) error
	CountAssigned(ctx context.Context, t Type, system string) (int64, error)
}
