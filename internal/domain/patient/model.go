// Package patient holds the stable identity of a person: demographics,
// national identifier, identity reliability and external identifiers.
// Patients are never hard-deleted; a merge re-points the absorbed
// patient's dossiers and identifiers onto the absorbing one.
package patient

import (
	"time"

	"github.com/google/uuid"
)

// Sex is the administrative sex.
type Sex string

const (
	SexMale    Sex = "male"
	SexFemale  Sex = "female"
	SexOther   Sex = "other"
	SexUnknown Sex = "unknown"
)

// SexFromHL7 maps a PID-8 value.
func SexFromHL7(v string) Sex {
	switch v {
	case "M":
		return SexMale
	case "F":
		return SexFemale
	case "O", "A":
		return SexOther
	default:
		return SexUnknown
	}
}

// HL7 returns the PID-8 code.
func (s Sex) HL7() string {
	switch s {
	case SexMale:
		return "M"
	case SexFemale:
		return "F"
	case SexOther:
		return "O"
	default:
		return "U"
	}
}

// National identifier type tags.
const (
	NationalTypeNIR  = "NIR"
	NationalTypeINSC = "INS-C"
)

// Identity reliability codes (French identitovigilance).
const (
	ReliabilityValidated   = "VALI"
	ReliabilityQualified   = "QUAL"
	ReliabilityProvisional = "PROV"
	ReliabilityEmpty       = "VIDE"
	ReliabilityDoubtful    = "DOUTE"
	ReliabilityDuplicate   = "DOUB"
)

// Patient is the canonical person record.
type Patient struct {
	ID         uuid.UUID `db:"id" json:"id"`
	FamilyName string    `db:"family_name" json:"family_name"`
	// GivenNames is ordered; the first entry is the usual first name.
	GivenNames []string   `db:"given_names" json:"given_names"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Sex        Sex        `db:"sex" json:"sex"`

	BirthPlace     string  `db:"birth_place" json:"birth_place,omitempty"`
	BirthINSEECode *string `db:"birth_insee_code" json:"birth_insee_code,omitempty"`
	BirthCountry   string  `db:"birth_country" json:"birth_country,omitempty"`

	NationalID        *string    `db:"national_id" json:"national_id,omitempty"`
	NationalIDType    *string    `db:"national_id_type" json:"national_id_type,omitempty"`
	INSInRegistry     bool       `db:"ins_in_registry" json:"ins_in_registry"`
	INSLastQueriedAt  *time.Time `db:"ins_last_queried_at" json:"ins_last_queried_at,omitempty"`
	IdentityReliability string   `db:"identity_reliability" json:"identity_reliability"`

	// MergedIntoID is set when this record was absorbed by another patient.
	MergedIntoID *uuid.UUID `db:"merged_into_id" json:"merged_into_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ExternalIdentifier is one (namespace, value) pair held by a patient.
// At most one primary identifier exists per (patient, namespace type).
type ExternalIdentifier struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	System    string    `db:"system" json:"system"`
	Type      string    `db:"type" json:"type"` // IPP, INS, ...
	Value     string    `db:"value" json:"value"`
	Primary   bool      `db:"is_primary" json:"is_primary"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GivenName returns the first given name, or "".
func (p *Patient) GivenName() string {
	if len(p.GivenNames) == 0 {
		return ""
	}
	return p.GivenNames[0]
}
