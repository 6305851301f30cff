package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Update(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id uuid.UUID) (*Patient, error)

	// FindByIdentifier resolves a patient by one of its external
	// identifiers; returns nil (no error) when unknown.
	FindByIdentifier(ctx context.Context, idType, system, value string) (*Patient, error)

	AddIdentifier(ctx context.Context, ident *ExternalIdentifier) error
	Identifiers(ctx context.Context, patientID uuid.UUID) ([]*ExternalIdentifier, error)
	// RepointIdentifiers moves every identifier of from onto to,
	// demoting any that would collide with an existing primary.
	RepointIdentifiers(ctx context.Context, from, to uuid.UUID) error
}
