package generator

import (
	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/dossier"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/fhir"
)

const identifierTypeSystem = "http://terminology.hl7.org/CodeSystem/v2-0203"

// structureSystem scopes UF codes carried on Organization resources. The
// endpoint identifier override applies to patient-level identifiers only.
const structureSystem = "urn:meddatabridge:structure:uf"

// encounterStatus maps the venue operational status to Encounter.status.
func encounterStatus(s dossier.VenueStatus) string {
	switch s {
	case dossier.StatusPreAdmitted:
		return "planned"
	case dossier.StatusActive:
		return "in-progress"
	case dossier.StatusOnLeave:
		return "onleave"
	case dossier.StatusDischarged:
		return "finished"
	case dossier.StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// encounterClass maps the dossier type to the v3 ActCode class.
func encounterClass(t dossier.Type) fhir.Coding {
	system := "http://terminology.hl7.org/CodeSystem/v3-ActCode"
	switch t {
	case dossier.TypeHospitalise:
		return fhir.Coding{System: system, Code: "IMP", Display: "inpatient encounter"}
	case dossier.TypeUrgences:
		return fhir.Coding{System: system, Code: "EMER", Display: "emergency"}
	default:
		return fhir.Coding{System: system, Code: "AMB", Display: "ambulatory"}
	}
}

// GenerateFHIR renders the canonical snapshot as a transaction Bundle of
// Patient, Organization, Location and Encounter. The ZBE movement rides
// on the Encounter as a proprietary extension.
func (g *Generator) GenerateFHIR(in Input) (*fhir.Bundle, error) {
	override := in.Endpoint.identifierOverride()

	patientID := uuid.New().String()
	res := []interface{}{g.buildFHIRPatient(in, patientID, override)}

	if !in.isLifecycle() {
		orgID := uuid.New().String()
		locID := uuid.New().String()

		res = append(res, fhir.Organization{
			ResourceType: "Organization",
			ID:           orgID,
			Name:         in.MedicalUFLabel,
			Identifier: []fhir.Identifier{{
				System: structureSystem,
				Value:  in.MedicalUFCode,
			}},
		})

		res = append(res, fhir.Location{
			ResourceType: "Location",
			ID:           locID,
			Name:         in.Location.Path(),
			Mode:         "instance",
			ManagingOrganization: &fhir.Reference{
				Reference: fhir.FormatReference("Organization", orgID),
			},
		})

		res = append(res, g.buildFHIREncounter(in, patientID, locID, orgID, override))
	}

	return fhir.NewTransactionBundle(res)
}

func (g *Generator) buildFHIRPatient(in Input, id, override string) fhir.Patient {
	p := fhir.Patient{ResourceType: "Patient", ID: id}

	if in.IPP.Value != "" {
		p.Identifier = append(p.Identifier, fhir.Identifier{
			System: in.IPP.system(override),
			Value:  in.IPP.Value,
			Type: &fhir.CodeableConcept{Coding: []fhir.Coding{{
				System: identifierTypeSystem, Code: "PI",
			}}},
		})
	}
	if in.NDA.Value != "" {
		p.Identifier = append(p.Identifier, fhir.Identifier{
			System: in.NDA.system(override),
			Value:  in.NDA.Value,
			Type: &fhir.CodeableConcept{Coding: []fhir.Coding{{
				System: identifierTypeSystem, Code: "AN",
			}}},
		})
	}

	if pat := in.Patient; pat != nil {
		p.Name = []fhir.HumanName{{
			Use:    "official",
			Family: pat.FamilyName,
			Given:  pat.GivenNames,
		}}
		p.Gender = string(pat.Sex)
		if pat.BirthDate != nil {
			p.BirthDate = pat.BirthDate.Format("2006-01-02")
		}
	}

	if in.Trigger == "A40" && in.MergedIPP.Value != "" {
		p.Link = []fhir.PatientLink{{
			Other: fhir.Reference{Display: in.MergedIPP.Value},
			Type:  "replaces",
		}}
	}
	return p
}

func (g *Generator) buildFHIREncounter(in Input, patientID, locID, orgID, override string) fhir.Encounter {
	class := encounterClass(in.DossierType)
	enc := fhir.Encounter{
		ResourceType: "Encounter",
		ID:           uuid.New().String(),
		Status:       encounterStatus(in.VenueStatus),
		Class:        &class,
		Subject: &fhir.Reference{
			Reference: fhir.FormatReference("Patient", patientID),
		},
		ServiceProvider: &fhir.Reference{
			Reference: fhir.FormatReference("Organization", orgID),
		},
		Location: []fhir.EncounterLocation{{
			Location: fhir.Reference{Reference: fhir.FormatReference("Location", locID)},
			Status:   "active",
		}},
	}

	if in.VN.Value != "" {
		enc.Identifier = []fhir.Identifier{{
			System: in.VN.system(override),
			Value:  in.VN.Value,
			Type: &fhir.CodeableConcept{Coding: []fhir.Coding{{
				System: identifierTypeSystem, Code: "VN",
			}}},
		}}
	}

	if !in.VenueStart.IsZero() {
		start := in.VenueStart
		enc.Period = &fhir.Period{Start: &start, End: in.VenueEnd}
	}

	enc.Extension = []fhir.Extension{g.zbeExtension(in)}
	return enc
}

// zbeExtension carries the movement metadata FHIR has no standard home
// for.
func (g *Generator) zbeExtension(in Input) fhir.Extension {
	historic := in.Historic
	ext := fhir.Extension{
		URL: g.zbeExtensionURL,
		Extension: []fhir.Extension{
			{URL: "movementId", ValueString: in.MVTID},
			{URL: "action", ValueCode: in.Action},
			{URL: "historic", ValueBoolean: &historic},
			{URL: "medicalUnit", ValueString: in.MedicalUFCode},
			{URL: "nature", ValueCode: in.Nature},
		},
	}
	if in.OriginalTrigger != "" {
		ext.Extension = append(ext.Extension, fhir.Extension{
			URL: "originalTrigger", ValueCode: in.OriginalTrigger,
		})
	}
	if in.CareUFCode != "" {
		ext.Extension = append(ext.Extension, fhir.Extension{
			URL: "careUnit", ValueString: in.CareUFCode,
		})
	}
	return ext
}
