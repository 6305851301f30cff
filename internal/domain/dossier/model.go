// Package dossier is the patient-administrative core: admission folders,
// venues (stays) and their movements, governed by the movement state
// machine. All venue mutations run under the per-venue lock.
package dossier

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type classifies a dossier.
type Type string

const (
	TypeHospitalise Type = "HOSPITALISE"
	TypeUrgences    Type = "URGENCES"
	TypeExterne     Type = "EXTERNE"
	TypeAmbulatoire Type = "AMBULATOIRE"
)

// TypeFromPV1 maps a PV1-2 patient class.
func TypeFromPV1(class string) Type {
	switch strings.ToUpper(class) {
	case "I":
		return TypeHospitalise
	case "E":
		return TypeUrgences
	case "O":
		return TypeExterne
	default:
		return TypeAmbulatoire
	}
}

// PV1Class renders the PV1-2 code.
func (t Type) PV1Class() string {
	switch t {
	case TypeHospitalise:
		return "I"
	case TypeUrgences:
		return "E"
	case TypeExterne:
		return "O"
	default:
		return "O"
	}
}

// VenueStatus is the operational status of a stay.
type VenueStatus string

const (
	// StatusNone is the pseudo-status of a not-yet-created venue.
	StatusNone        VenueStatus = ""
	StatusPreAdmitted VenueStatus = "PRE_ADMITTED"
	StatusActive      VenueStatus = "ACTIVE"
	StatusOnLeave     VenueStatus = "ON_LEAVE"
	StatusDischarged  VenueStatus = "DISCHARGED"
	StatusCancelled   VenueStatus = "CANCELLED"
)

// Action of a movement.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionCancel Action = "CANCEL"
)

// Location is a leaf position in the structure tree, carried on the wire
// as the PV1-3/PV1-6 PL composite point-of-care^room^bed.
type Location struct {
	UF   string `db:"uf" json:"uf"`
	Room string `db:"room" json:"room,omitempty"`
	Bed  string `db:"bed" json:"bed,omitempty"`
}

// ParseLocation reads a PL composite like "CARD^101^1".
func ParseLocation(pl string) Location {
	parts := strings.Split(pl, "^")
	loc := Location{UF: parts[0]}
	if len(parts) > 1 {
		loc.Room = parts[1]
	}
	if len(parts) > 2 {
		loc.Bed = parts[2]
	}
	return loc
}

// PL renders the HL7 composite.
func (l Location) PL() string {
	if l.Bed != "" {
		return l.UF + "^" + l.Room + "^" + l.Bed
	}
	if l.Room != "" {
		return l.UF + "^" + l.Room
	}
	return l.UF
}

// Path renders the display form "CARD/101/1".
func (l Location) Path() string {
	parts := []string{l.UF}
	if l.Room != "" {
		parts = append(parts, l.Room)
	}
	if l.Bed != "" {
		parts = append(parts, l.Bed)
	}
	return strings.Join(parts, "/")
}

// IsZero reports whether no location is set.
func (l Location) IsZero() bool { return l.UF == "" && l.Room == "" && l.Bed == "" }

// Dossier is one admission folder of a patient within a juridical entity.
type Dossier struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	JuridicalEntityID *uuid.UUID `db:"juridical_entity_id" json:"juridical_entity_id,omitempty"`
	// NDA is the dossier number, unique per juridical entity.
	NDA       string    `db:"nda" json:"nda"`
	NDASystem string    `db:"nda_system" json:"nda_system"`
	AdmitTime time.Time `db:"admit_time" json:"admit_time"`
	Type      Type      `db:"type" json:"type"`

	MedicalUFCode string `db:"medical_uf_code" json:"medical_uf_code,omitempty"`
	HousingUFCode string `db:"housing_uf_code" json:"housing_uf_code,omitempty"`
	CareUFCode    string `db:"care_uf_code" json:"care_uf_code,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Venue is one contiguous episode of care within a dossier.
type Venue struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DossierID uuid.UUID `db:"dossier_id" json:"dossier_id"`
	// VN is the visit number, unique per juridical entity.
	VN       string      `db:"vn" json:"vn"`
	VNSystem string      `db:"vn_system" json:"vn_system"`
	Start    time.Time   `db:"start_time" json:"start_time"`
	End      *time.Time  `db:"end_time" json:"end_time,omitempty"`
	Status   VenueStatus `db:"status" json:"status"`
	Location Location    `db:"location" json:"location"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Movement is one administrative event on a venue.
type Movement struct {
	ID       uuid.UUID `db:"id" json:"id"`
	VenueID  uuid.UUID `db:"venue_id" json:"venue_id"`
	Sequence int       `db:"sequence" json:"sequence"`
	// MVTID is the wire movement identifier (ZBE-1).
	MVTID     string    `db:"mvt_id" json:"mvt_id"`
	Timestamp time.Time `db:"ts" json:"ts"`
	Trigger   string    `db:"trigger_code" json:"trigger_code"`
	Action    Action    `db:"action" json:"action"`
	Historic  bool      `db:"historic" json:"historic"`
	// OriginalTrigger is required when Action is UPDATE or CANCEL.
	OriginalTrigger string `db:"original_trigger" json:"original_trigger,omitempty"`

	MedicalUFCode  string `db:"medical_uf_code" json:"medical_uf_code"`
	MedicalUFLabel string `db:"medical_uf_label" json:"medical_uf_label,omitempty"`
	CareUFCode     string `db:"care_uf_code" json:"care_uf_code,omitempty"`
	CareUFLabel    string `db:"care_uf_label" json:"care_uf_label,omitempty"`

	Nature   string   `db:"nature" json:"nature,omitempty"`
	Location Location `db:"location" json:"location"`

	// CancelsSequence points at the movement a CANCEL voids.
	CancelsSequence *int `db:"cancels_sequence" json:"cancels_sequence,omitempty"`
	// Cancelled is set on a movement once a CANCEL voided it.
	Cancelled bool `db:"cancelled" json:"cancelled"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
