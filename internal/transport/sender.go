package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
)

const (
	dialTimeout = 10 * time.Second
	// idleTeardown closes a sender connection left unused.
	idleTeardown = 60 * time.Second
)

// mllpSender delivers framed messages to a remote MLLP listener. The
// connection is opened on first use and torn down after one minute idle.
// Send is serialised: MLLP has no message correlation, so the ACK read
// must follow its own write.
type mllpSender struct {
	addr       string
	ackTimeout time.Duration
	idle       time.Duration
	log        zerolog.Logger

	mu    sync.Mutex
	conn  net.Conn
	timer *time.Timer
}

func newMLLPSender(ep *Endpoint, log zerolog.Logger) *mllpSender {
	return &mllpSender{
		addr:       ep.Addr(),
		ackTimeout: ep.Timeout(),
		idle:       idleTeardown,
		log:        log.With().Str("endpoint", ep.Name).Logger(),
	}
}

// Send writes one message and reads the peer's ACK frame.
func (s *mllpSender) Send(ctx context.Context, raw []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.conn == nil {
		conn, err := net.DialTimeout("tcp", s.addr, dialTimeout)
		if err != nil {
			return nil, diag.Wrap(diag.ConnectionRefused, err, "dial %s", s.addr)
		}
		s.conn = conn
		s.log.Debug().Str("addr", s.addr).Msg("mllp sender connected")
	}

	deadline := time.Now().Add(s.ackTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetDeadline(deadline)

	if _, err := s.conn.Write(hl7v2.Frame(raw)); err != nil {
		s.teardown()
		return nil, diag.Wrap(diag.ConnectionReset, err, "write %s", s.addr)
	}

	dec := hl7v2.NewDecoder(0)
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if werr := dec.Write(buf[:n]); werr != nil {
				s.teardown()
				return nil, werr
			}
			if payload, ok := dec.Next(); ok {
				s.touch()
				return payload, nil
			}
		}
		if err != nil {
			s.teardown()
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, diag.Wrap(diag.ReadTimeout, err,
					"no ACK from %s within %s", s.addr, s.ackTimeout)
			}
			return nil, diag.Wrap(diag.ConnectionReset, err, "read %s", s.addr)
		}
	}
}

// touch arms the idle teardown timer.
func (s *mllpSender) touch() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.idle, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.conn != nil {
			s.log.Debug().Str("addr", s.addr).Msg("mllp sender idle, closing")
		}
		s.teardown()
	})
}

// teardown closes the connection. Callers hold the mutex.
func (s *mllpSender) teardown() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Close shuts the sender down.
func (s *mllpSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.teardown()
	return nil
}
