package structure

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/db"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// ErrNotFound is returned when a code resolves to no node.
var ErrNotFound = errors.New("structure: node not found")

// Codes of the synthesized parent chain backing auto-created units.
const (
	VirtualEGCode      = "VIRTUAL-EG"
	VirtualPoleCode    = "VIRTUAL-POLE"
	VirtualServiceCode = "VIRTUAL-SERVICE"
)

// Policy carries the per-process auto-creation flags.
type Policy struct {
	// AutoCreateUF lets Resolve create a virtual functional unit for an
	// unknown code instead of rejecting with UF_UNKNOWN. Off by default.
	AutoCreateUF bool
	// AutoVirtualPole lets the MFN importer synthesize missing parents.
	AutoVirtualPole bool
}

type Service struct {
	repo   Repository
	locks  *db.KeyedLock
	policy Policy
	log    zerolog.Logger
}

func NewService(repo Repository, locks *db.KeyedLock, policy Policy, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locks:  locks,
		policy: policy,
		log:    log.With().Str("component", "structure").Logger(),
	}
}

// Resolve finds the node with the given code at the given level, scoped to
// a juridical entity. An unknown functional unit is auto-created (virtual)
// when the policy allows it; otherwise resolution fails with UF_UNKNOWN.
// More than one match outside an entity scope is an ambiguity.
func (s *Service) Resolve(ctx context.Context, code string, kind Kind, ejID *uuid.UUID) (*Node, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty code for kind %s", ErrNotFound, kind)
	}
	nodes, err := s.repo.FindByCode(ctx, kind, code, ejID)
	if err != nil {
		return nil, err
	}
	switch len(nodes) {
	case 1:
		return nodes[0], nil
	case 0:
		if kind == KindFunctionalUnit {
			if s.policy.AutoCreateUF {
				return s.EnsureVirtualUF(ctx, code, code, ejID)
			}
			return nil, diag.New(diag.UFUnknown, "functional unit %q is unknown", code)
		}
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, kind, code)
	default:
		return nil, diag.New(diag.StructureAmbiguity,
			"code %q matches %d %s nodes, juridical entity scope required",
			code, len(nodes), kind)
	}
}

// EnsureVirtualUF returns the functional unit with the given code,
// creating it (and its virtual service/pole/geographic-entity chain) when
// absent. Creation runs under the entity's structure lock so concurrent
// messages referencing the same unknown unit create it once.
func (s *Service) EnsureVirtualUF(ctx context.Context, code, label string, ejID *uuid.UUID) (*Node, error) {
	var out *Node
	err := s.locks.WithLock(structLockKey(ejID), func() error {
		nodes, err := s.repo.FindByCode(ctx, KindFunctionalUnit, code, ejID)
		if err != nil {
			return err
		}
		if len(nodes) > 0 {
			out = nodes[0]
			return nil
		}

		svc, err := s.ensureVirtualChain(ctx, ejID)
		if err != nil {
			return err
		}
		out = &Node{
			Kind:              KindFunctionalUnit,
			Code:              code,
			Label:             label,
			ParentID:          &svc.ID,
			JuridicalEntityID: ejID,
			Virtual:           true,
		}
		if err := s.repo.Create(ctx, out); err != nil {
			return err
		}
		s.log.Info().
			Str("code", code).
			Msg("auto-created virtual functional unit")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ensureVirtualChain finds or creates the virtual EG → pole → service
// chain of a juridical entity and returns the service node.
func (s *Service) ensureVirtualChain(ctx context.Context, ejID *uuid.UUID) (*Node, error) {
	eg, err := s.ensureVirtualNode(ctx, KindGeographicEntity, VirtualEGCode, ejID, ejID)
	if err != nil {
		return nil, err
	}
	pole, err := s.ensureVirtualNode(ctx, KindPole, VirtualPoleCode, &eg.ID, ejID)
	if err != nil {
		return nil, err
	}
	return s.ensureVirtualNode(ctx, KindService, VirtualServiceCode, &pole.ID, ejID)
}

func (s *Service) ensureVirtualNode(ctx context.Context, kind Kind, code string, parentID, ejID *uuid.UUID) (*Node, error) {
	nodes, err := s.repo.FindByCode(ctx, kind, code, ejID)
	if err != nil {
		return nil, err
	}
	if len(nodes) > 0 {
		return nodes[0], nil
	}
	n := &Node{
		Kind:              kind,
		Code:              code,
		Label:             code,
		ParentID:          parentID,
		JuridicalEntityID: ejID,
		Virtual:           true,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func structLockKey(ejID *uuid.UUID) string {
	if ejID == nil {
		return "structure:global"
	}
	return "structure:" + ejID.String()
}
