package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/pipeline"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
)

// Ingestor feeds inbound messages to the processing pipeline.
type Ingestor interface {
	Process(ctx context.Context, raw []byte, opts pipeline.Options) (*pipeline.Result, error)
}

// Manager owns the lifecycle of every endpoint: inbound listeners and
// pollers are started and stopped here, outbound senders and clients are
// held for Transmit. One instance per endpoint; lifecycle transitions
// are serialised by the manager mutex.
type Manager struct {
	repo   Repository
	ingest Ingestor
	strict bool
	log    zerolog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]*instance
}

type instance struct {
	endpoint *Endpoint
	listener *hl7v2.Server
	inbox    *inbox
	sender   *mllpSender
	client   *fhirClient
}

func NewManager(repo Repository, ingest Ingestor, strict bool, log zerolog.Logger) *Manager {
	return &Manager{
		repo:    repo,
		ingest:  ingest,
		strict:  strict,
		log:     log.With().Str("component", "transport").Logger(),
		running: make(map[uuid.UUID]*instance),
	}
}

// StartEnabled starts every enabled endpoint. Individual failures are
// logged and do not stop the others.
func (m *Manager) StartEnabled(ctx context.Context) error {
	endpoints, err := m.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, ep := range endpoints {
		if !ep.Enabled {
			continue
		}
		if err := m.Start(ctx, ep.ID); err != nil {
			m.log.Error().Err(err).Str("endpoint", ep.Name).Msg("endpoint start failed")
		}
	}
	return nil
}

// Start brings one endpoint up.
func (m *Manager) Start(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[id]; ok {
		return fmt.Errorf("endpoint %s already started", id)
	}
	ep, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	inst := &instance{endpoint: ep}
	switch ep.Kind {
	case KindMLLPListener:
		inst.listener = hl7v2.NewServer(ep.Addr(), m.handlerFor(ep), 0, 0, m.log)
		if err := inst.listener.Start(); err != nil {
			return err
		}
	case KindFileInbox:
		inst.inbox = newInbox(ep, m.handlerFor(ep), m.log)
		if err := inst.inbox.Start(); err != nil {
			return err
		}
	case KindMLLPSender:
		inst.sender = newMLLPSender(ep, m.log)
	case KindFHIRClient:
		inst.client = newFHIRClient(ep)
	case KindFileOutbox:
		if info, err := os.Stat(ep.Path); err != nil || !info.IsDir() {
			return fmt.Errorf("outbox %s: %q is not a directory", ep.Name, ep.Path)
		}
	default:
		return fmt.Errorf("endpoint %s: unknown kind %q", ep.Name, ep.Kind)
	}

	m.running[id] = inst
	m.log.Info().Str("endpoint", ep.Name).Str("kind", string(ep.Kind)).Msg("endpoint started")
	return nil
}

// Stop tears one endpoint down.
func (m *Manager) Stop(id uuid.UUID) error {
	m.mu.Lock()
	inst, ok := m.running[id]
	if ok {
		delete(m.running, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("endpoint %s is not started", id)
	}

	var err error
	switch {
	case inst.listener != nil:
		err = inst.listener.Stop()
	case inst.inbox != nil:
		err = inst.inbox.Stop()
	case inst.sender != nil:
		err = inst.sender.Close()
	}
	m.log.Info().Str("endpoint", inst.endpoint.Name).Msg("endpoint stopped")
	return err
}

// StopAll tears everything down, for shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id)
	}
}

// Test probes an endpoint's reachability without exchanging messages.
func (m *Manager) Test(ctx context.Context, id uuid.UUID) error {
	ep, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	switch ep.Kind {
	case KindMLLPSender, KindMLLPListener:
		conn, err := net.DialTimeout("tcp", ep.Addr(), 5*time.Second)
		if err != nil {
			return diag.Wrap(diag.ConnectionRefused, err, "dial %s", ep.Addr())
		}
		return conn.Close()
	case KindFileInbox, KindFileOutbox:
		info, err := os.Stat(ep.Path)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%q is not a directory", ep.Path)
		}
		return nil
	case KindFHIRClient:
		_, err := newFHIRClient(ep).Post(ctx, []byte(`{"resourceType":"Bundle","type":"transaction","entry":[]}`))
		return err
	default:
		return fmt.Errorf("unknown kind %q", ep.Kind)
	}
}

// Transmit delivers one rendered message through an outbound endpoint
// and returns the raw response. It satisfies the scenario engine's
// transmitter contract.
func (m *Manager) Transmit(ctx context.Context, endpointID *uuid.UUID, raw []byte) ([]byte, error) {
	if endpointID == nil {
		return nil, diag.New(diag.ConnectionRefused, "no endpoint bound to transmission")
	}
	m.mu.Lock()
	inst, ok := m.running[*endpointID]
	m.mu.Unlock()
	if !ok {
		return nil, diag.New(diag.ConnectionRefused, "endpoint %s is not started", endpointID)
	}

	switch inst.endpoint.Kind {
	case KindMLLPSender:
		return inst.sender.Send(ctx, raw)
	case KindFHIRClient:
		return inst.client.Post(ctx, raw)
	case KindFileOutbox:
		return m.writeOutbox(inst.endpoint, raw)
	default:
		return nil, fmt.Errorf("endpoint %s (%s) cannot transmit",
			inst.endpoint.Name, inst.endpoint.Kind)
	}
}

// writeOutbox drops the message as a file. File delivery has no peer,
// so a local AA acknowledges the write itself.
func (m *Manager) writeOutbox(ep *Endpoint, raw []byte) ([]byte, error) {
	name := fmt.Sprintf("msg_%d_%s.hl7", time.Now().UnixNano(),
		uuid.NewString()[:8])
	if err := os.WriteFile(filepath.Join(ep.Path, name), raw, 0o644); err != nil {
		return nil, err
	}
	msg, err := hl7v2.Parse(raw)
	if err != nil {
		msg = hl7v2.SynthesizeInbound(raw)
	}
	return hl7v2.Serialize(hl7v2.BuildACK(msg, hl7v2.ACKAccept, "", nil)), nil
}

// handlerFor binds the pipeline to one inbound endpoint.
func (m *Manager) handlerFor(ep *Endpoint) func(raw []byte) []byte {
	epID := ep.ID
	ejID := ep.JuridicalEntityID
	return func(raw []byte) []byte {
		res, err := m.ingest.Process(context.Background(), raw, pipeline.Options{
			Strict:            m.strict,
			EndpointID:        &epID,
			JuridicalEntityID: ejID,
		})
		if err != nil {
			m.log.Error().Err(err).Str("endpoint", ep.Name).Msg("inbound processing failed")
			return nil
		}
		return res.ACKBytes
	}
}
