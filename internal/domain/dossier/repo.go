package dossier

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateDossier(ctx context.Context, d *Dossier) error
	UpdateDossier(ctx context.Context, d *Dossier) error
	GetDossier(ctx context.Context, id uuid.UUID) (*Dossier, error)
	// FindDossierByNDA returns nil (no error) when unknown.
	FindDossierByNDA(ctx context.Context, system, nda string) (*Dossier, error)
	DossiersForPatient(ctx context.Context, patientID uuid.UUID) ([]*Dossier, error)
	RepointDossiers(ctx context.Context, fromPatient, toPatient uuid.UUID) error

	CreateVenue(ctx context.Context, v *Venue) error
	UpdateVenue(ctx context.Context, v *Venue) error
	GetVenue(ctx context.Context, id uuid.UUID) (*Venue, error)
	// FindVenueByVN returns nil (no error) when unknown.
	FindVenueByVN(ctx context.Context, system, vn string) (*Venue, error)
	VenuesForDossier(ctx context.Context, dossierID uuid.UUID) ([]*Venue, error)
	// ActiveVenueForDossier returns nil when the dossier has no ACTIVE
	// venue.
	ActiveVenueForDossier(ctx context.Context, dossierID uuid.UUID) (*Venue, error)

	AddMovement(ctx context.Context, m *Movement) error
	UpdateMovement(ctx context.Context, m *Movement) error
	// Movements returns the venue's movements ordered by sequence.
	Movements(ctx context.Context, venueID uuid.UUID) ([]*Movement, error)
}
