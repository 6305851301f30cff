package patient

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

type mockRepo struct {
	patients map[uuid.UUID]*Patient
	idents   []*ExternalIdentifier
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) FindByIdentifier(_ context.Context, idType, system, value string) (*Patient, error) {
	for _, e := range m.idents {
		if e.Type == idType && e.System == system && e.Value == value {
			p := m.patients[e.PatientID]
			if p == nil {
				return nil, nil
			}
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) AddIdentifier(_ context.Context, ident *ExternalIdentifier) error {
	cp := *ident
	m.idents = append(m.idents, &cp)
	return nil
}

func (m *mockRepo) Identifiers(_ context.Context, patientID uuid.UUID) ([]*ExternalIdentifier, error) {
	var out []*ExternalIdentifier
	for _, e := range m.idents {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockRepo) RepointIdentifiers(_ context.Context, from, to uuid.UUID) error {
	for _, e := range m.idents {
		if e.PatientID == from {
			e.PatientID = to
		}
	}
	return nil
}

type mockRepointer struct {
	calls [][2]uuid.UUID
}

func (m *mockRepointer) RepointDossiers(_ context.Context, from, to uuid.UUID) error {
	m.calls = append(m.calls, [2]uuid.UUID{from, to})
	return nil
}

func TestRegisterAndFind(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil, zerolog.Nop())

	p, err := svc.Register(context.Background(), Demographics{
		FamilyName: "DOE",
		GivenNames: []string{"JOHN"},
		Sex:        SexMale,
	}, []WireIdentifier{{Type: "IPP", System: "HOSP", Value: "IPP-42", Primary: true}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	found, err := svc.FindByAnyIdentifier(context.Background(), []WireIdentifier{
		{Type: "IPP", System: "HOSP", Value: "IPP-42"},
	})
	if err != nil {
		t.Fatalf("FindByAnyIdentifier: %v", err)
	}
	if found == nil || found.ID != p.ID {
		t.Fatalf("found = %+v, want patient %s", found, p.ID)
	}

	missing, err := svc.FindByAnyIdentifier(context.Background(), []WireIdentifier{
		{Type: "IPP", System: "HOSP", Value: "IPP-99"},
	})
	if err != nil || missing != nil {
		t.Errorf("unknown identifier: got %+v, %v", missing, err)
	}
}

func TestUpdateDemographics_KeepsUnsetFields(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil, zerolog.Nop())

	p, _ := svc.Register(context.Background(), Demographics{
		FamilyName: "DOE",
		GivenNames: []string{"JOHN"},
		Sex:        SexMale,
		BirthPlace: "PARIS",
	}, nil)

	if err := svc.UpdateDemographics(context.Background(), p, Demographics{
		FamilyName: "DOE-SMITH",
	}); err != nil {
		t.Fatalf("UpdateDemographics: %v", err)
	}

	stored, _ := repo.Get(context.Background(), p.ID)
	if stored.FamilyName != "DOE-SMITH" {
		t.Errorf("family = %q", stored.FamilyName)
	}
	if stored.BirthPlace != "PARIS" || stored.Sex != SexMale {
		t.Errorf("unset fields must survive: %+v", stored)
	}
}

func TestMerge(t *testing.T) {
	repo := newMockRepo()
	rp := &mockRepointer{}
	svc := NewService(repo, rp, zerolog.Nop())

	absorbing, _ := svc.Register(context.Background(), Demographics{FamilyName: "DOE"},
		[]WireIdentifier{{Type: "IPP", System: "HOSP", Value: "IPP-1", Primary: true}})
	absorbed, _ := svc.Register(context.Background(), Demographics{FamilyName: "DOE"},
		[]WireIdentifier{{Type: "IPP", System: "HOSP", Value: "IPP-2", Primary: true}})

	if err := svc.Merge(context.Background(), absorbing.ID, absorbed.ID); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	ids, _ := repo.Identifiers(context.Background(), absorbing.ID)
	if len(ids) != 2 {
		t.Errorf("absorbing holds %d identifiers, want 2", len(ids))
	}
	if len(rp.calls) != 1 || rp.calls[0] != [2]uuid.UUID{absorbed.ID, absorbing.ID} {
		t.Errorf("dossiers not re-pointed: %v", rp.calls)
	}

	gone, _ := repo.Get(context.Background(), absorbed.ID)
	if gone.MergedIntoID == nil || *gone.MergedIntoID != absorbing.ID {
		t.Error("absorbed record must point at the absorbing one")
	}
	if gone.IdentityReliability != ReliabilityDuplicate {
		t.Errorf("reliability = %q, want DOUB", gone.IdentityReliability)
	}

	// Resolution through the old identifier lands on the survivor.
	found, err := svc.FindByAnyIdentifier(context.Background(), []WireIdentifier{
		{Type: "IPP", System: "HOSP", Value: "IPP-2"},
	})
	if err != nil {
		t.Fatalf("FindByAnyIdentifier: %v", err)
	}
	if found.ID != absorbing.ID {
		t.Error("merged identifier must resolve to the absorbing patient")
	}
}

func TestMerge_MissingPatient(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil, zerolog.Nop())
	p, _ := svc.Register(context.Background(), Demographics{FamilyName: "DOE"}, nil)

	err := svc.Merge(context.Background(), p.ID, uuid.New())
	if diag.CodeOf(err) != diag.PatientNotFound {
		t.Fatalf("err = %v, want PATIENT_NOT_FOUND", err)
	}
}
