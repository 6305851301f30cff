package messagelog

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

type mockRepo struct {
	entries []*Entry
}

func (m *mockRepo) Insert(_ context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockRepo) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	for _, e := range m.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, errors.New("no rows")
}

func (m *mockRepo) FindByControlID(_ context.Context, controlID string) (*Entry, error) {
	for _, e := range m.entries {
		if e.ControlID == controlID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) FindByCorrelationID(_ context.Context, correlationID string) ([]*Entry, error) {
	var out []*Entry
	for _, e := range m.entries {
		if e.CorrelationID == correlationID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, e *Entry) error {
	for _, stored := range m.entries {
		if stored.ID == e.ID {
			stored.Status = e.Status
			stored.Diagnostics = e.Diagnostics
		}
	}
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]*Entry, error) {
	var out []*Entry
	for _, e := range m.entries {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Direction != "" && e.Direction != f.Direction {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func TestRecordInbound_DuplicateControlID(t *testing.T) {
	svc := NewService(&mockRepo{}, zerolog.Nop())

	if _, err := svc.RecordInbound(context.Background(), "CTL001", "A01", []byte("raw"), nil); err != nil {
		t.Fatalf("first record: %v", err)
	}
	_, err := svc.RecordInbound(context.Background(), "CTL001", "A01", []byte("raw"), nil)
	if diag.CodeOf(err) != diag.DuplicateControlID {
		t.Fatalf("err = %v, want DUPLICATE_CONTROL_ID", err)
	}
}

func TestResolve_ExactlyOnce(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())

	e, _ := svc.RecordInbound(context.Background(), "CTL002", "A01", []byte("raw"), nil)
	if e.Status != StatusPending {
		t.Fatalf("status = %s, want pending", e.Status)
	}

	if err := svc.Resolve(context.Background(), e, StatusSuccess, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	stored, _ := repo.Get(context.Background(), e.ID)
	if stored.Status != StatusSuccess {
		t.Errorf("stored status = %s", stored.Status)
	}

	defer func() {
		if recover() == nil {
			t.Error("second resolve must panic")
		}
	}()
	_ = svc.Resolve(context.Background(), e, StatusError, nil)
}

func TestResolve_NonTerminalPanics(t *testing.T) {
	svc := NewService(&mockRepo{}, zerolog.Nop())
	e, _ := svc.RecordInbound(context.Background(), "CTL003", "A01", nil, nil)

	defer func() {
		if recover() == nil {
			t.Error("resolving to pending must panic")
		}
	}()
	_ = svc.Resolve(context.Background(), e, StatusPending, nil)
}

func TestCorrelation_PairsRequestAndACK(t *testing.T) {
	svc := NewService(&mockRepo{}, zerolog.Nop())

	in, _ := svc.RecordInbound(context.Background(), "CTL010", "A01", []byte("msg"), nil)
	_, err := svc.RecordOutbound(context.Background(), "ACK010", "ACK", in.ControlID, []byte("ack"), nil)
	if err != nil {
		t.Fatalf("RecordOutbound: %v", err)
	}

	pair, err := svc.Correlated(context.Background(), "CTL010")
	if err != nil {
		t.Fatalf("Correlated: %v", err)
	}
	if len(pair) != 2 {
		t.Fatalf("correlated entries = %d, want 2", len(pair))
	}
	if pair[0].Direction != DirectionInbound || pair[1].Direction != DirectionOutbound {
		t.Errorf("directions = %s/%s", pair[0].Direction, pair[1].Direction)
	}
}

func TestResolve_ErrorCarriesDiagnostics(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())
	e, _ := svc.RecordInbound(context.Background(), "CTL020", "A02", []byte("msg"), nil)

	ds := diag.Diagnostics{{
		Code:     diag.InvalidTransition,
		Severity: diag.SeverityError,
		Text:     "trigger A02 not allowed from status CANCELLED",
	}}
	if err := svc.Resolve(context.Background(), e, StatusError, ds); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	stored, _ := repo.Get(context.Background(), e.ID)
	if len(stored.Diagnostics) != 1 || stored.Diagnostics[0].Code != diag.InvalidTransition {
		t.Errorf("diagnostics = %+v", stored.Diagnostics)
	}
}
