package scenario

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/dossier"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/identifier"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/patient"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/vocabulary"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/generator"
)

// MaterializeOptions steer one materialization pass.
type MaterializeOptions struct {
	Endpoint          generator.EndpointInfo
	JuridicalEntityID *uuid.UUID
	Timeplan          Timeplan
	// IPPPattern and NDAPattern override the namespace allocation
	// pattern for this run; empty keeps the namespace's own.
	IPPPattern string
	NDAPattern string
	// Reuse, when set, skips allocation and binds the whole sequence to
	// existing identifiers.
	Reuse *ReuseIdentifiers
}

// ReuseIdentifiers binds a materialization to pre-existing values.
type ReuseIdentifiers struct {
	IPP generator.BoundIdentifier
	NDA generator.BoundIdentifier
	VN  generator.BoundIdentifier
}

// MaterializedStep is one rendered wire message with its schedule.
type MaterializedStep struct {
	Sequence    int
	Trigger     string
	ControlID   string
	ScheduledAt time.Time
	Raw         []byte
}

// Materialized is a template bound to fresh identifiers and a timeline.
type Materialized struct {
	IPP   generator.BoundIdentifier
	NDA   generator.BoundIdentifier
	VN    generator.BoundIdentifier
	Steps []MaterializedStep
}

// Materialize binds a template to one freshly allocated IPP/NDA/VN, one
// MVT per step, and renders every step through the generator in the
// template's protocol.
func (s *Service) Materialize(ctx context.Context, tmpl *Template, opts MaterializeOptions) (*Materialized, error) {
	mat := &Materialized{}

	if opts.Reuse != nil {
		mat.IPP, mat.NDA, mat.VN = opts.Reuse.IPP, opts.Reuse.NDA, opts.Reuse.VN
	} else {
		var err error
		if mat.IPP, err = s.allocate(ctx, identifier.TypeIPP, opts.JuridicalEntityID, opts.IPPPattern); err != nil {
			return nil, err
		}
		if mat.NDA, err = s.allocate(ctx, identifier.TypeNDA, opts.JuridicalEntityID, opts.NDAPattern); err != nil {
			return nil, err
		}
		if mat.VN, err = s.allocate(ctx, identifier.TypeVN, opts.JuridicalEntityID, ""); err != nil {
			return nil, err
		}
	}

	schedule := opts.Timeplan.Schedule(tmpl, s.now(), s.rng)

	// Synthetic identity: replayed sequences never carry real demographics.
	birth := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	pat := &patient.Patient{
		FamilyName: "SCENARIO",
		GivenNames: []string{"REPLAY"},
		BirthDate:  &birth,
		Sex:        patient.SexUnknown,
	}

	var prior dossier.Location
	for i, step := range tmpl.Steps {
		mvt, err := s.allocate(ctx, identifier.TypeMVT, opts.JuridicalEntityID, "")
		if err != nil {
			return nil, err
		}

		loc := dossier.ParseLocation(step.Location)
		in := generator.Input{
			Trigger:        step.Trigger,
			ControlID:      generator.NewControlID(),
			Timestamp:      schedule[i],
			EventTime:      schedule[i],
			Endpoint:       opts.Endpoint,
			Patient:        pat,
			IPP:            mat.IPP,
			NDA:            mat.NDA,
			VN:             mat.VN,
			MVTID:          mvt.Value,
			DossierType:    dossier.Type(step.DossierType),
			VenueStatus:    venueStatusFor(step),
			VenueStart:     schedule[0],
			Location:       loc,
			Action:         step.Action,
			MedicalUFCode:  step.MedicalUFCode,
			MedicalUFLabel: step.MedicalUFLabel,
			CareUFCode:     step.CareUFCode,
			CareUFLabel:    step.CareUFLabel,
			Nature:         step.Nature,
		}
		if step.Trigger == "A02" {
			in.PriorLocation = prior
		}
		if step.Role == string(vocabulary.RoleDischarge) {
			end := schedule[i]
			in.VenueEnd = &end
		}

		var raw []byte
		if tmpl.Protocol == ProtocolFHIR {
			bundle, err := s.gen.GenerateFHIR(in)
			if err != nil {
				return nil, err
			}
			if raw, err = json.Marshal(bundle); err != nil {
				return nil, err
			}
		} else {
			if _, raw, err = s.gen.GenerateHL7(in); err != nil {
				return nil, err
			}
		}

		mat.Steps = append(mat.Steps, MaterializedStep{
			Sequence:    step.Sequence,
			Trigger:     step.Trigger,
			ControlID:   in.ControlID,
			ScheduledAt: schedule[i],
			Raw:         raw,
		})
		if !loc.IsZero() {
			prior = loc
		}
	}
	return mat, nil
}

func (s *Service) allocate(ctx context.Context, t identifier.Type, ejID *uuid.UUID, pattern string) (generator.BoundIdentifier, error) {
	alloc, ns, err := s.idents.AllocateByTypeWithPattern(ctx, t, ejID, pattern)
	if err != nil {
		return generator.BoundIdentifier{}, err
	}
	return generator.BoundIdentifier{Value: alloc.Value, Namespace: ns}, nil
}

// venueStatusFor derives the Encounter/PV1 status hint of a step.
func venueStatusFor(step Step) dossier.VenueStatus {
	if step.Semantic == vocabulary.EventPreAdmission {
		return dossier.StatusPreAdmitted
	}
	if step.Role == string(vocabulary.RoleDischarge) {
		return dossier.StatusDischarged
	}
	return dossier.StatusActive
}
