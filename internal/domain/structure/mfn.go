package structure

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
)

// MFE record-level event codes.
const (
	mfeAdd        = "MAD"
	mfeUpdate     = "MUP"
	mfeDeactivate = "MDL"
)

// ImportResult summarises one MFN^M05 import pass.
type ImportResult struct {
	Created int
	Updated int
	Deleted int
	Diags   diag.Diagnostics
}

// mfnRecord is one MFE (+ optional LOC) pair of the master file message.
// MFE-4 carries code^kind^parent-code; LOC-2 the display label.
type mfnRecord struct {
	action     string
	code       string
	kind       Kind
	parentCode string
	label      string
}

// ImportMFN applies an authoritative MFN^M05 structure import for one
// juridical entity. The import is a single idempotent pass: existing
// nodes (virtual included) are updated in place and lose their virtual
// flag; unknown parents are synthesized as virtual when the policy
// allows, otherwise the record is skipped with a diagnostic.
func (s *Service) ImportMFN(ctx context.Context, msg *hl7v2.Message, ejID *uuid.UUID) (*ImportResult, error) {
	if !strings.HasPrefix(msg.Type, "MFN") {
		return nil, fmt.Errorf("structure: expected MFN message, got %q", msg.Type)
	}

	records := parseMFNRecords(msg)
	res := &ImportResult{}

	err := s.locks.WithLock(structLockKey(ejID), func() error {
		for _, rec := range records {
			if err := s.applyMFNRecord(ctx, rec, ejID, res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("deleted", res.Deleted).
		Int("skipped", len(res.Diags)).
		Msg("MFN structure import applied")
	return res, nil
}

func parseMFNRecords(msg *hl7v2.Message) []mfnRecord {
	var out []mfnRecord
	for i := range msg.Segments {
		seg := &msg.Segments[i]
		if seg.Name != "MFE" {
			continue
		}
		rec := mfnRecord{
			action:     strings.ToUpper(seg.GetField(1)),
			code:       seg.GetComponent(4, 1),
			kind:       Kind(strings.ToUpper(seg.GetComponent(4, 2))),
			parentCode: seg.GetComponent(4, 3),
		}
		// The LOC segment, when present, directly follows its MFE.
		if i+1 < len(msg.Segments) && msg.Segments[i+1].Name == "LOC" {
			rec.label = msg.Segments[i+1].GetField(2)
		}
		if rec.label == "" {
			rec.label = rec.code
		}
		out = append(out, rec)
	}
	return out
}

func (s *Service) applyMFNRecord(ctx context.Context, rec mfnRecord, ejID *uuid.UUID, res *ImportResult) error {
	if rec.code == "" || !rec.kind.Valid() {
		res.Diags = append(res.Diags, diag.Diagnostic{
			Code:     diag.StructureAmbiguity,
			Severity: diag.SeverityWarning,
			Segment:  "MFE",
			Field:    4,
			Text:     fmt.Sprintf("record %q/%q is not importable", rec.code, rec.kind),
		})
		return nil
	}

	existing, err := s.repo.FindByCode(ctx, rec.kind, rec.code, ejID)
	if err != nil {
		return err
	}

	if rec.action == mfeDeactivate {
		for _, n := range existing {
			if err := s.repo.Delete(ctx, n.ID); err != nil {
				return err
			}
			res.Deleted++
		}
		return nil
	}

	parentID, err := s.resolveMFNParent(ctx, rec, ejID)
	if err != nil {
		res.Diags = append(res.Diags, diag.Diagnostic{
			Code:     diag.UFUnknown,
			Severity: diag.SeverityWarning,
			Segment:  "MFE",
			Field:    4,
			Text:     fmt.Sprintf("parent %q of %s %q not found, record skipped", rec.parentCode, rec.kind, rec.code),
		})
		return nil
	}

	if len(existing) > 0 {
		n := existing[0]
		n.Label = rec.label
		if parentID != nil {
			n.ParentID = parentID
		}
		n.Virtual = false
		if err := s.repo.Update(ctx, n); err != nil {
			return err
		}
		res.Updated++
		return nil
	}

	if err := s.repo.Create(ctx, &Node{
		Kind:              rec.kind,
		Code:              rec.code,
		Label:             rec.label,
		ParentID:          parentID,
		JuridicalEntityID: ejID,
		Virtual:           false,
	}); err != nil {
		return err
	}
	res.Created++
	return nil
}

// resolveMFNParent finds the parent node for an imported record. With no
// explicit parent code the virtual chain stands in when the policy allows.
func (s *Service) resolveMFNParent(ctx context.Context, rec mfnRecord, ejID *uuid.UUID) (*uuid.UUID, error) {
	pk := ParentKind(rec.kind)
	if pk == "" || pk == KindTerritory {
		return nil, nil
	}

	if rec.parentCode != "" {
		parents, err := s.repo.FindByCode(ctx, pk, rec.parentCode, ejID)
		if err != nil {
			return nil, err
		}
		if len(parents) > 0 {
			return &parents[0].ID, nil
		}
		if !s.policy.AutoVirtualPole {
			return nil, fmt.Errorf("%w: %s %q", ErrNotFound, pk, rec.parentCode)
		}
		grandID, err := s.resolveMFNParent(ctx, mfnRecord{kind: pk}, ejID)
		if err != nil {
			return nil, err
		}
		n, err := s.ensureVirtualNode(ctx, pk, rec.parentCode, grandID, ejID)
		if err != nil {
			return nil, err
		}
		return &n.ID, nil
	}

	if !s.policy.AutoVirtualPole {
		return nil, fmt.Errorf("%w: no parent for %s %q", ErrNotFound, rec.kind, rec.code)
	}
	switch rec.kind {
	case KindFunctionalUnit:
		svc, err := s.ensureVirtualChain(ctx, ejID)
		if err != nil {
			return nil, err
		}
		return &svc.ID, nil
	case KindService:
		eg, err := s.ensureVirtualNode(ctx, KindGeographicEntity, VirtualEGCode, ejID, ejID)
		if err != nil {
			return nil, err
		}
		pole, err := s.ensureVirtualNode(ctx, KindPole, VirtualPoleCode, &eg.ID, ejID)
		if err != nil {
			return nil, err
		}
		return &pole.ID, nil
	case KindPole:
		eg, err := s.ensureVirtualNode(ctx, KindGeographicEntity, VirtualEGCode, ejID, ejID)
		if err != nil {
			return nil, err
		}
		return &eg.ID, nil
	default:
		return nil, nil
	}
}
