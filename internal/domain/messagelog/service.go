package messagelog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log.With().Str("component", "messagelog").Logger()}
}

// RecordInbound appends a pending entry for a received message. A
// control id seen before is rejected with DUPLICATE_CONTROL_ID; the
// caller turns that into an ACK AE.
func (s *Service) RecordInbound(ctx context.Context, controlID, trigger string, raw []byte, endpointID *uuid.UUID) (*Entry, error) {
	existing, err := s.repo.FindByControlID(ctx, controlID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, diag.New(diag.DuplicateControlID,
			"control id %q was already received", controlID)
	}

	e := &Entry{
		ControlID:     controlID,
		Trigger:       trigger,
		Direction:     DirectionInbound,
		CorrelationID: controlID,
		Raw:           raw,
		Timestamp:     time.Now().UTC(),
		Status:        StatusPending,
		EndpointID:    endpointID,
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordOutbound appends a pending entry for an emitted message.
// correlationID is the inbound control id when the message answers one,
// else the message's own control id.
func (s *Service) RecordOutbound(ctx context.Context, controlID, trigger, correlationID string, raw []byte, endpointID *uuid.UUID) (*Entry, error) {
	if correlationID == "" {
		correlationID = controlID
	}
	e := &Entry{
		ControlID:     controlID,
		Trigger:       trigger,
		Direction:     DirectionOutbound,
		CorrelationID: correlationID,
		Raw:           raw,
		Timestamp:     time.Now().UTC(),
		Status:        StatusPending,
		EndpointID:    endpointID,
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Resolve moves an entry out of pending exactly once. A second
// transition is a programming error and panics.
func (s *Service) Resolve(ctx context.Context, e *Entry, status Status, diags diag.Diagnostics) error {
	if status != StatusSuccess && status != StatusError {
		panic(fmt.Sprintf("messagelog: resolve to %q is not a terminal status", status))
	}
	if e.Status != StatusPending {
		panic(fmt.Sprintf("messagelog: entry %s already resolved to %q", e.ID, e.Status))
	}
	e.Status = status
	e.Diagnostics = append(e.Diagnostics, diags...)
	if err := s.repo.UpdateStatus(ctx, e); err != nil {
		return err
	}
	if status == StatusError {
		s.log.Warn().
			Str("control_id", e.ControlID).
			Str("trigger", e.Trigger).
			Int("diagnostics", len(e.Diagnostics)).
			Msg("message resolved with error")
	}
	return nil
}

// Correlated returns every entry sharing a correlation id, request and
// ACK together, ordered by time.
func (s *Service) Correlated(ctx context.Context, correlationID string) ([]*Entry, error) {
	return s.repo.FindByCorrelationID(ctx, correlationID)
}

// List proxies filtered queries for the HTTP surface and statistics.
func (s *Service) List(ctx context.Context, f Filter) ([]*Entry, error) {
	return s.repo.List(ctx, f)
}
