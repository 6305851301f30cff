package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// DossierRepointer re-binds every dossier of one patient onto another.
// The dossier aggregate provides the implementation; it is injected here
// so a merge stays a single operation.
type DossierRepointer interface {
	RepointDossiers(ctx context.Context, from, to uuid.UUID) error
}

// Demographics is the mutable identity subset carried by PID.
type Demographics struct {
	FamilyName     string
	GivenNames     []string
	BirthDate      *time.Time
	Sex            Sex
	BirthPlace     string
	BirthINSEECode *string
	BirthCountry   string
	NationalID     *string
	NationalIDType *string
	Reliability    string
}

// WireIdentifier is one identifier read from (or destined for) the wire.
type WireIdentifier struct {
	Type    string
	System  string
	Value   string
	Primary bool
}

type Service struct {
	repo     Repository
	dossiers DossierRepointer
	log      zerolog.Logger
}

func NewService(repo Repository, dossiers DossierRepointer, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		dossiers: dossiers,
		log:      log.With().Str("component", "patient").Logger(),
	}
}

// FindByAnyIdentifier tries each wire identifier in order and returns the
// first matching patient, or nil when none resolves.
func (s *Service) FindByAnyIdentifier(ctx context.Context, idents []WireIdentifier) (*Patient, error) {
	for _, wi := range idents {
		if wi.Value == "" {
			continue
		}
		p, err := s.repo.FindByIdentifier(ctx, wi.Type, wi.System, wi.Value)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return s.followMerge(ctx, p)
		}
	}
	return nil, nil
}

// followMerge walks the merged-into chain so callers always get the
// surviving record.
func (s *Service) followMerge(ctx context.Context, p *Patient) (*Patient, error) {
	for p.MergedIntoID != nil {
		next, err := s.repo.Get(ctx, *p.MergedIntoID)
		if err != nil {
			return nil, err
		}
		p = next
	}
	return p, nil
}

// Register creates a patient with its identifiers.
func (s *Service) Register(ctx context.Context, demo Demographics, idents []WireIdentifier) (*Patient, error) {
	p := &Patient{
		FamilyName:          demo.FamilyName,
		GivenNames:          demo.GivenNames,
		BirthDate:           demo.BirthDate,
		Sex:                 demo.Sex,
		BirthPlace:          demo.BirthPlace,
		BirthINSEECode:      demo.BirthINSEECode,
		BirthCountry:        demo.BirthCountry,
		NationalID:          demo.NationalID,
		NationalIDType:      demo.NationalIDType,
		IdentityReliability: demo.Reliability,
	}
	if p.Sex == "" {
		p.Sex = SexUnknown
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	for _, wi := range idents {
		if wi.Value == "" {
			continue
		}
		if err := s.repo.AddIdentifier(ctx, &ExternalIdentifier{
			PatientID: p.ID,
			System:    wi.System,
			Type:      wi.Type,
			Value:     wi.Value,
			Primary:   wi.Primary,
		}); err != nil {
			return nil, err
		}
	}
	s.log.Info().Str("patient_id", p.ID.String()).Msg("patient registered")
	return p, nil
}

// UpdateDemographics applies an identity update (A08/A31) in place.
// Empty incoming fields keep the stored value.
func (s *Service) UpdateDemographics(ctx context.Context, p *Patient, demo Demographics) error {
	if demo.FamilyName != "" {
		p.FamilyName = demo.FamilyName
	}
	if len(demo.GivenNames) > 0 {
		p.GivenNames = demo.GivenNames
	}
	if demo.BirthDate != nil {
		p.BirthDate = demo.BirthDate
	}
	if demo.Sex != "" && demo.Sex != SexUnknown {
		p.Sex = demo.Sex
	}
	if demo.BirthPlace != "" {
		p.BirthPlace = demo.BirthPlace
	}
	if demo.BirthINSEECode != nil {
		p.BirthINSEECode = demo.BirthINSEECode
	}
	if demo.BirthCountry != "" {
		p.BirthCountry = demo.BirthCountry
	}
	if demo.NationalID != nil {
		p.NationalID = demo.NationalID
		p.NationalIDType = demo.NationalIDType
	}
	if demo.Reliability != "" {
		p.IdentityReliability = demo.Reliability
	}
	return s.repo.Update(ctx, p)
}

// Merge absorbs one patient into another (A40): identifiers and dossiers
// are re-pointed, the absorbed record is flagged and kept. Both records
// must exist.
func (s *Service) Merge(ctx context.Context, absorbingID, absorbedID uuid.UUID) error {
	if absorbingID == absorbedID {
		return diag.New(diag.PatientNotFound, "a patient cannot be merged into itself")
	}
	absorbing, err := s.repo.Get(ctx, absorbingID)
	if err != nil {
		return diag.Wrap(diag.PatientNotFound, err, "absorbing patient %s", absorbingID)
	}
	absorbed, err := s.repo.Get(ctx, absorbedID)
	if err != nil {
		return diag.Wrap(diag.PatientNotFound, err, "absorbed patient %s", absorbedID)
	}

	if err := s.repo.RepointIdentifiers(ctx, absorbed.ID, absorbing.ID); err != nil {
		return err
	}
	if s.dossiers != nil {
		if err := s.dossiers.RepointDossiers(ctx, absorbed.ID, absorbing.ID); err != nil {
			return err
		}
	}

	absorbed.MergedIntoID = &absorbing.ID
	absorbed.IdentityReliability = ReliabilityDuplicate
	if err := s.repo.Update(ctx, absorbed); err != nil {
		return err
	}

	s.log.Info().
		Str("absorbing", absorbing.ID.String()).
		Str("absorbed", absorbed.ID.String()).
		Msg("patients merged")
	return nil
}
