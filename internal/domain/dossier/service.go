package dossier

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/db"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// ApplyRequest is one movement event to run through the state machine.
type ApplyRequest struct {
	Dossier *Dossier
	// Venue is nil when the trigger may create one (A01/A04/A05).
	Venue *Venue

	MVTID           string
	Timestamp       time.Time
	Trigger         string
	Action          Action
	Historic        bool
	OriginalTrigger string
	Nature          string
	Location        Location
	MedicalUFCode   string
	MedicalUFLabel  string
	CareUFCode      string
	CareUFLabel     string

	// NewDossierType applies on A06/A07.
	NewDossierType Type
	// VN/VNSystem seed a venue created by this event.
	VN       string
	VNSystem string
}

// ApplyResult reports the state after a successful transition.
type ApplyResult struct {
	Venue    *Venue
	Movement *Movement
	// PriorLocation is the location before an A02, destined for PV1-6.
	PriorLocation Location
}

type Service struct {
	repo  Repository
	locks *db.KeyedLock
	log   zerolog.Logger
}

func NewService(repo Repository, locks *db.KeyedLock, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		locks: locks,
		log:   log.With().Str("component", "dossier").Logger(),
	}
}

// RepointDossiers moves every dossier of one patient onto another; used
// by the patient merge (A40).
func (s *Service) RepointDossiers(ctx context.Context, from, to uuid.UUID) error {
	return s.repo.RepointDossiers(ctx, from, to)
}

// Apply runs one movement event through the transition table and mutates
// the venue under its exclusive lock. Historic events bypass chronology
// only; the transition itself is always validated.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	var res *ApplyResult
	err := s.locks.WithLock(s.applyLockKey(req), func() error {
		var err error
		res, err = s.apply(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("trigger", req.Trigger).
		Str("venue_id", res.Venue.ID.String()).
		Str("status", string(res.Venue.Status)).
		Int("sequence", res.Movement.Sequence).
		Msg("movement applied")
	return res, nil
}

// applyLockKey serialises on the venue when it exists, else on the
// dossier so two concurrent creations collapse into one.
func (s *Service) applyLockKey(req ApplyRequest) string {
	if req.Venue != nil {
		return "venue:" + req.Venue.ID.String()
	}
	return "venue:new:" + req.Dossier.ID.String()
}

func (s *Service) apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	status := StatusNone
	var movements []*Movement
	if req.Venue != nil {
		status = req.Venue.Status
		var err error
		movements, err = s.repo.Movements(ctx, req.Venue.ID)
		if err != nil {
			return nil, err
		}
	}

	last := lastEffective(movements)
	lastTrigger := ""
	if last != nil {
		lastTrigger = last.Trigger
	}

	decision, err := Evaluate(status, req.Trigger, lastTrigger)
	if err != nil {
		return nil, err
	}

	if !req.Historic && len(movements) > 0 {
		tail := movements[len(movements)-1]
		if req.Timestamp.Before(tail.Timestamp) {
			return nil, diag.New(diag.InvalidTransition,
				"movement at %s is before the last movement at %s and is not historic",
				req.Timestamp.Format(time.RFC3339), tail.Timestamp.Format(time.RFC3339))
		}
	}

	venue := req.Venue
	if venue == nil {
		venue = &Venue{
			DossierID: req.Dossier.ID,
			VN:        req.VN,
			VNSystem:  req.VNSystem,
			Start:     req.Timestamp,
			Status:    decision.NewStatus,
			Location:  req.Location,
		}
		if err := s.checkSingleActive(ctx, req.Dossier.ID, nil, decision.NewStatus); err != nil {
			return nil, err
		}
		if err := s.repo.CreateVenue(ctx, venue); err != nil {
			return nil, err
		}
	} else if venue.Status != StatusActive && decision.NewStatus == StatusActive {
		if err := s.checkSingleActive(ctx, venue.DossierID, &venue.ID, decision.NewStatus); err != nil {
			return nil, err
		}
	}

	res := &ApplyResult{Venue: venue}

	mvt := &Movement{
		VenueID:         venue.ID,
		Sequence:        len(movements) + 1,
		MVTID:           req.MVTID,
		Timestamp:       req.Timestamp,
		Trigger:         req.Trigger,
		Action:          req.Action,
		Historic:        req.Historic,
		OriginalTrigger: req.OriginalTrigger,
		MedicalUFCode:   req.MedicalUFCode,
		MedicalUFLabel:  req.MedicalUFLabel,
		CareUFCode:      req.CareUFCode,
		CareUFLabel:     req.CareUFLabel,
		Nature:          req.Nature,
		Location:        req.Location,
	}

	if decision.CancelsTrigger != "" {
		if last == nil {
			return nil, diag.New(diag.InvalidTransition,
				"trigger %s has no movement to cancel", req.Trigger)
		}
		last.Cancelled = true
		if err := s.repo.UpdateMovement(ctx, last); err != nil {
			return nil, err
		}
		seq := last.Sequence
		mvt.CancelsSequence = &seq
		mvt.Action = ActionCancel
		if mvt.OriginalTrigger == "" {
			mvt.OriginalTrigger = last.Trigger
		}
	}

	switch decision.Effect {
	case EffectMoveLocation:
		res.PriorLocation = venue.Location
		venue.Location = req.Location
	case EffectSetEnd:
		end := req.Timestamp
		venue.End = &end
		if !req.Location.IsZero() {
			venue.Location = req.Location
		}
	case EffectClearEnd:
		venue.End = nil
	case EffectRollbackLocation:
		venue.Location = locationBefore(movements, last)
		mvt.Location = venue.Location
	case EffectDossierType:
		if req.NewDossierType != "" {
			req.Dossier.Type = req.NewDossierType
			if err := s.repo.UpdateDossier(ctx, req.Dossier); err != nil {
				return nil, err
			}
		}
	case EffectCreateVenue, EffectNone:
		if status == StatusPreAdmitted && decision.NewStatus == StatusActive && !req.Location.IsZero() {
			venue.Location = req.Location
		}
	}

	venue.Status = decision.NewStatus
	if req.Venue != nil {
		if err := s.repo.UpdateVenue(ctx, venue); err != nil {
			return nil, err
		}
	}

	if err := s.repo.AddMovement(ctx, mvt); err != nil {
		return nil, err
	}
	res.Movement = mvt
	return res, nil
}

// checkSingleActive enforces the one-ACTIVE-venue-per-dossier invariant
// before a venue becomes ACTIVE.
func (s *Service) checkSingleActive(ctx context.Context, dossierID uuid.UUID, selfID *uuid.UUID, newStatus VenueStatus) error {
	if newStatus != StatusActive {
		return nil
	}
	active, err := s.repo.ActiveVenueForDossier(ctx, dossierID)
	if err != nil {
		return err
	}
	if active != nil && (selfID == nil || active.ID != *selfID) {
		return diag.New(diag.InvalidTransition,
			"dossier %s already has an active venue %s", dossierID, active.ID)
	}
	return nil
}

// lastEffective returns the last movement that is neither cancelled nor
// itself a cancel.
func lastEffective(movements []*Movement) *Movement {
	for i := len(movements) - 1; i >= 0; i-- {
		m := movements[i]
		if !m.Cancelled && m.Action != ActionCancel {
			return m
		}
	}
	return nil
}

// locationBefore finds the venue location preceding the cancelled
// movement, for the A12 rollback.
func locationBefore(movements []*Movement, cancelled *Movement) Location {
	for i := len(movements) - 1; i >= 0; i-- {
		m := movements[i]
		if m.Sequence >= cancelled.Sequence {
			continue
		}
		if m.Cancelled || m.Action == ActionCancel {
			continue
		}
		if !m.Location.IsZero() {
			return m.Location
		}
	}
	return Location{}
}
