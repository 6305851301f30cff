// Package structure holds the organizational tree of a hospital:
// territory, juridical entity, geographic entity, pole, service,
// functional unit, housing unit, room, bed. Codes are unique within
// their scope; placeholder nodes created from the wire carry a virtual
// flag until an authoritative MFN import replaces them.
package structure

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies a level of the tree.
type Kind string

const (
	KindTerritory        Kind = "TERRITORY"
	KindJuridicalEntity  Kind = "EJ"
	KindGeographicEntity Kind = "EG"
	KindPole             Kind = "POLE"
	KindService          Kind = "SERVICE"
	KindFunctionalUnit   Kind = "UF"
	KindHousingUnit      Kind = "UH"
	KindRoom             Kind = "ROOM"
	KindBed              Kind = "BED"
)

// parentKind gives the mandatory parent level for each non-root kind.
var parentKind = map[Kind]Kind{
	KindJuridicalEntity:  KindTerritory,
	KindGeographicEntity: KindJuridicalEntity,
	KindPole:             KindGeographicEntity,
	KindService:          KindPole,
	KindFunctionalUnit:   KindService,
	KindHousingUnit:      KindFunctionalUnit,
	KindRoom:             KindHousingUnit,
	KindBed:              KindRoom,
}

// ParentKind returns the required parent level, or "" for the root.
func ParentKind(k Kind) Kind { return parentKind[k] }

// Valid reports whether k names a tree level.
func (k Kind) Valid() bool {
	if k == KindTerritory {
		return true
	}
	_, ok := parentKind[k]
	return ok
}

// Node is one entry of the tree. JuridicalEntityID scopes code uniqueness;
// it is nil for territories and is the node's own id for juridical
// entities. FINESS is set on juridical entities only.
type Node struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	Kind              Kind       `db:"kind" json:"kind"`
	Code              string     `db:"code" json:"code"`
	Label             string     `db:"label" json:"label"`
	FINESS            *string    `db:"finess" json:"finess,omitempty"`
	ParentID          *uuid.UUID `db:"parent_id" json:"parent_id,omitempty"`
	JuridicalEntityID *uuid.UUID `db:"juridical_entity_id" json:"juridical_entity_id,omitempty"`
	Virtual           bool       `db:"virtual" json:"virtual"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
