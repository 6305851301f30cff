package scenario

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/dossier"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/identifier"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/vocabulary"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/generator"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// Transmitter delivers one rendered message to an endpoint and returns
// the raw response (ACK frame or HTTP body). Failed deliveries come back
// as classified errors.
type Transmitter interface {
	Transmit(ctx context.Context, endpointID *uuid.UUID, raw []byte) ([]byte, error)
}

type Service struct {
	repo     Repository
	dossiers dossier.Repository
	idents   *identifier.Service
	gen      *generator.Generator
	transmit Transmitter
	log      zerolog.Logger

	rng   identifier.Rand
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(
	repo Repository,
	dossiers dossier.Repository,
	idents *identifier.Service,
	gen *generator.Generator,
	transmit Transmitter,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		dossiers: dossiers,
		idents:   idents,
		gen:      gen,
		transmit: transmit,
		log:      log.With().Str("component", "scenario").Logger(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Capture snapshots the chronological movement history of a dossier into
// a new context-free template. The template keeps no reference to the
// dossier: deleting the source later leaves it intact.
func (s *Service) Capture(ctx context.Context, dossierID uuid.UUID, name string) (*Template, error) {
	dos, err := s.dossiers.GetDossier(ctx, dossierID)
	if err != nil {
		return nil, err
	}

	venues, err := s.dossiers.VenuesForDossier(ctx, dossierID)
	if err != nil {
		return nil, err
	}
	var movements []*dossier.Movement
	for _, v := range venues {
		ms, err := s.dossiers.Movements(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		movements = append(movements, ms...)
	}
	if len(movements) == 0 {
		return nil, diag.New(diag.CaptureEmptyFolder,
			"dossier %s has no movements to capture", dossierID)
	}
	sort.Slice(movements, func(i, j int) bool {
		return movements[i].Timestamp.Before(movements[j].Timestamp)
	})

	now := s.now()
	tmpl := &Template{
		Key:           fmt.Sprintf("captured.dossier_%s_%d", dossierID, now.Unix()),
		Name:          name,
		Protocol:      ProtocolHL7,
		Tags:          []string{"captured", "real-data", "dossier-" + dossierID.String()},
		CapturedStart: movements[0].Timestamp,
	}

	for i, m := range movements {
		entry, _ := vocabulary.Default().ByTrigger(m.Trigger)
		var delay int64
		if i > 0 {
			delay = int64(m.Timestamp.Sub(movements[i-1].Timestamp) / time.Second)
		}
		tmpl.Steps = append(tmpl.Steps, Step{
			Sequence:       i + 1,
			Semantic:       entry.Semantic,
			Trigger:        m.Trigger,
			Role:           string(entry.Role),
			DelaySeconds:   delay,
			DossierType:    string(dos.Type),
			Location:       m.Location.PL(),
			MedicalUFCode:  m.MedicalUFCode,
			MedicalUFLabel: m.MedicalUFLabel,
			CareUFCode:     m.CareUFCode,
			CareUFLabel:    m.CareUFLabel,
			Nature:         m.Nature,
			Action:         string(m.Action),
			Payload: fmt.Sprintf("trigger=%s action=%s uf=%s(%s) location=%s nature=%s",
				m.Trigger, m.Action, m.MedicalUFCode, m.MedicalUFLabel, m.Location.PL(), m.Nature),
		})
	}

	if err := s.repo.SaveTemplate(ctx, tmpl); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("key", tmpl.Key).
		Int("steps", len(tmpl.Steps)).
		Msg("dossier captured as template")
	return tmpl, nil
}
