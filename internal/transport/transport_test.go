package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/pipeline"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
)

const rawA01 = "MSH|^~\\&|SND|SF|RCV|RF|20240101100000||ADT^A01^ADT_A01|CTL-1|P|2.5"

type memRepo struct {
	endpoints map[uuid.UUID]*Endpoint
}

func newMemRepo() *memRepo { return &memRepo{endpoints: map[uuid.UUID]*Endpoint{}} }

func (m *memRepo) Create(_ context.Context, e *Endpoint) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.endpoints[e.ID] = e
	return nil
}
func (m *memRepo) Update(_ context.Context, e *Endpoint) error { return nil }
func (m *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.endpoints, id)
	return nil
}
func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*Endpoint, error) {
	e, ok := m.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %s not found", id)
	}
	return e, nil
}
func (m *memRepo) List(_ context.Context) ([]*Endpoint, error) {
	var out []*Endpoint
	for _, e := range m.endpoints {
		out = append(out, e)
	}
	return out, nil
}

type fakeIngestor struct {
	opts pipeline.Options
	raw  []byte
	ack  []byte
}

func (f *fakeIngestor) Process(_ context.Context, raw []byte, opts pipeline.Options) (*pipeline.Result, error) {
	f.raw = raw
	f.opts = opts
	return &pipeline.Result{Accepted: true, ACKBytes: f.ack}, nil
}

func ackingServer(t *testing.T) *hl7v2.Server {
	t.Helper()
	handler := func(raw []byte) []byte {
		msg, err := hl7v2.Parse(raw)
		if err != nil {
			msg = hl7v2.SynthesizeInbound(raw)
		}
		return hl7v2.Serialize(hl7v2.BuildACK(msg, hl7v2.ACKAccept, "", nil))
	}
	srv := hl7v2.NewServer("127.0.0.1:0", handler, 0, 2*time.Second, zerolog.Nop())
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestMLLPSender_SendAndReuse(t *testing.T) {
	srv := ackingServer(t)

	s := &mllpSender{addr: srv.Addr(), ackTimeout: 2 * time.Second,
		idle: time.Minute, log: zerolog.Nop()}
	defer s.Close()

	for i := 0; i < 2; i++ {
		resp, err := s.Send(context.Background(), []byte(rawA01))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		ack, err := hl7v2.Parse(resp)
		if err != nil {
			t.Fatalf("parse ack %d: %v", i, err)
		}
		msa := ack.GetSegment("MSA")
		if msa == nil || msa.GetField(1) != hl7v2.ACKAccept {
			t.Fatalf("send %d: expected AA", i)
		}
		if msa.GetField(2) != "CTL-1" {
			t.Errorf("send %d: MSA-2 = %q", i, msa.GetField(2))
		}
	}
}

func TestMLLPSender_ConnectionRefused(t *testing.T) {
	// Grab a port nobody is listening on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	s := &mllpSender{addr: addr, ackTimeout: time.Second,
		idle: time.Minute, log: zerolog.Nop()}
	defer s.Close()

	_, err = s.Send(context.Background(), []byte(rawA01))
	if diag.CodeOf(err) != diag.ConnectionRefused {
		t.Errorf("err = %v", err)
	}
}

func TestMLLPSender_ACKTimeout(t *testing.T) {
	// A listener that accepts and stays silent.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	s := &mllpSender{addr: ln.Addr().String(), ackTimeout: 200 * time.Millisecond,
		idle: time.Minute, log: zerolog.Nop()}
	defer s.Close()

	_, err = s.Send(context.Background(), []byte(rawA01))
	if diag.CodeOf(err) != diag.ReadTimeout {
		t.Errorf("err = %v", err)
	}
}

func TestInbox_ProcessesEachFileOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "msg.hl7")
	if err := os.WriteFile(path, []byte(rawA01), 0o644); err != nil {
		t.Fatal(err)
	}

	calls := 0
	ep := &Endpoint{Name: "inbox", Kind: KindFileInbox, Path: dir}
	in := newInbox(ep, func(raw []byte) []byte {
		calls++
		if string(raw) != rawA01 {
			t.Errorf("handler got %q", raw)
		}
		return []byte("ACK-PAYLOAD")
	}, zerolog.Nop())

	in.scan()
	in.scan()

	if calls != 1 {
		t.Errorf("handler called %d times", calls)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original file must be renamed away")
	}
	if _, err := os.Stat(path + ".done"); err != nil {
		t.Errorf("done marker: %v", err)
	}
	ack, err := os.ReadFile(path + ".ack")
	if err != nil || string(ack) != "ACK-PAYLOAD" {
		t.Errorf("ack file = %q, %v", ack, err)
	}
}

func TestManager_HandlerBindsEndpointToPipeline(t *testing.T) {
	ing := &fakeIngestor{ack: []byte("ACK")}
	m := NewManager(newMemRepo(), ing, true, zerolog.Nop())

	ejID := uuid.New()
	ep := &Endpoint{ID: uuid.New(), Name: "lst", Kind: KindMLLPListener,
		JuridicalEntityID: &ejID}
	resp := m.handlerFor(ep)([]byte(rawA01))

	if string(resp) != "ACK" {
		t.Errorf("handler response = %q", resp)
	}
	if ing.opts.EndpointID == nil || *ing.opts.EndpointID != ep.ID {
		t.Error("endpoint id must reach the pipeline")
	}
	if ing.opts.JuridicalEntityID == nil || *ing.opts.JuridicalEntityID != ejID {
		t.Error("juridical entity must reach the pipeline")
	}
	if !ing.opts.Strict {
		t.Error("strict flag must reach the pipeline")
	}
}

func TestManager_TransmitOutboxWritesFileAndAcksLocally(t *testing.T) {
	dir := t.TempDir()
	repo := newMemRepo()
	ep := &Endpoint{Name: "out", Kind: KindFileOutbox, Path: dir, Enabled: true}
	_ = repo.Create(context.Background(), ep)

	m := NewManager(repo, &fakeIngestor{}, false, zerolog.Nop())
	if err := m.Start(context.Background(), ep.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.StopAll()

	resp, err := m.Transmit(context.Background(), &ep.ID, []byte(rawA01))
	if err != nil {
		t.Fatalf("transmit: %v", err)
	}
	ack, err := hl7v2.Parse(resp)
	if err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	if ack.GetSegment("MSA").GetField(1) != hl7v2.ACKAccept {
		t.Error("local ack must be AA")
	}

	files, _ := filepath.Glob(filepath.Join(dir, "*.hl7"))
	if len(files) != 1 {
		t.Fatalf("outbox files = %d", len(files))
	}
	body, _ := os.ReadFile(files[0])
	if string(body) != rawA01 {
		t.Error("outbox file must hold the raw message")
	}
}

func TestManager_TransmitUnstartedEndpoint(t *testing.T) {
	m := NewManager(newMemRepo(), &fakeIngestor{}, false, zerolog.Nop())
	id := uuid.New()
	_, err := m.Transmit(context.Background(), &id, []byte(rawA01))
	if diag.CodeOf(err) != diag.ConnectionRefused {
		t.Errorf("err = %v", err)
	}
	if _, err := m.Transmit(context.Background(), nil, []byte(rawA01)); err == nil {
		t.Error("nil endpoint must fail")
	}
}

func TestManager_StartStopListener(t *testing.T) {
	repo := newMemRepo()
	ep := &Endpoint{Name: "lst", Kind: KindMLLPListener, Host: "127.0.0.1",
		Port: 0, Enabled: true}
	_ = repo.Create(context.Background(), ep)

	m := NewManager(repo, &fakeIngestor{ack: []byte("ACK")}, false, zerolog.Nop())
	if err := m.Start(context.Background(), ep.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(context.Background(), ep.ID); err == nil {
		t.Error("double start must fail")
	}
	if err := m.Stop(ep.ID); err != nil {
		t.Errorf("stop: %v", err)
	}
	if err := m.Stop(ep.ID); err == nil {
		t.Error("double stop must fail")
	}
}

func TestFHIRClient_Post(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/fhir+json" {
			t.Errorf("content type = %q", ct)
		}
		w.Write([]byte(`{"resourceType":"Bundle","type":"transaction-response"}`))
	}))
	defer srv.Close()

	c := newFHIRClient(&Endpoint{URL: srv.URL, TimeoutSeconds: 2})
	body, err := c.Post(context.Background(), []byte(`{"resourceType":"Bundle"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if len(body) == 0 {
		t.Error("expected response body")
	}
}

func TestFHIRClient_ErrorStatusClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newFHIRClient(&Endpoint{URL: srv.URL, TimeoutSeconds: 2})
	_, err := c.Post(context.Background(), []byte(`{}`))
	if diag.CodeOf(err) != diag.HTTPError {
		t.Errorf("err = %v", err)
	}
}
