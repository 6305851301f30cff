// Package identifier allocates and validates the bridge's identifier
// pools: IPP, NDA, VN and MVT values under configurable prefix patterns or
// numeric ranges.
package identifier

import (
	"time"

	"github.com/google/uuid"
)

// Type tags an identifier pool.
type Type string

const (
	TypeIPP       Type = "IPP"
	TypeNDA       Type = "NDA"
	TypeVN        Type = "VN"
	TypeMVT       Type = "MVT"
	TypeINS       Type = "INS"
	TypeStructure Type = "STRUCTURE"
)

// HL7TypeCode returns the two-letter CX identifier type code.
func (t Type) HL7TypeCode() string {
	switch t {
	case TypeIPP:
		return "PI"
	case TypeNDA:
		return "AN"
	case TypeVN:
		return "VN"
	case TypeINS:
		return "INS"
	default:
		return ""
	}
}

// Generation modes.
const (
	ModePattern  = "fixed"
	ModeRange    = "range"
	ModeExternal = "external"
)

// Namespace is a named identifier pool. JuridicalEntityID nil means the
// pool is shared by every juridical entity.
type Namespace struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	Name              string     `db:"name" json:"name"`
	System            string     `db:"system" json:"system"`
	OID               *string    `db:"oid" json:"oid,omitempty"`
	Type              Type       `db:"type" json:"type"`
	JuridicalEntityID *uuid.UUID `db:"juridical_entity_id" json:"juridical_entity_id,omitempty"`
	Mode              string     `db:"mode" json:"mode"`
	// PrefixPattern like "9...": literal prefix followed by one random
	// decimal digit per dot.
	PrefixPattern *string    `db:"prefix_pattern" json:"prefix_pattern,omitempty"`
	RangeMin      *int64     `db:"range_min" json:"range_min,omitempty"`
	RangeMax      *int64     `db:"range_max" json:"range_max,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// AssigningAuthority returns the OID when configured, else the system URI.
func (n *Namespace) AssigningAuthority() string {
	if n.OID != nil && *n.OID != "" {
		return *n.OID
	}
	return n.System
}

// Identifier is one allocated value of a pool.
type Identifier struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Value     string    `db:"value" json:"value"`
	Type      Type      `db:"type" json:"type"`
	System    string    `db:"system" json:"system"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FormatCX renders the HL7 CX composite
// value^^^{assigning-authority}^{type-code}. override, when non-empty,
// replaces the assigning authority (per-endpoint forced system/OID).
func FormatCX(value string, ns *Namespace, override string) string {
	authority := ns.AssigningAuthority()
	if override != "" {
		authority = override
	}
	return value + "^^^" + authority + "^" + ns.Type.HL7TypeCode()
}
