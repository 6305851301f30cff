package hl7v2

import (
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

const (
	// MLLPStartBlock is the MLLP start-of-message byte (VT).
	MLLPStartBlock = 0x0B

	// MLLPEndBlock is the MLLP end-of-message byte (FS).
	MLLPEndBlock = 0x1C

	// MLLPCarriageReturn trails the end block.
	MLLPCarriageReturn = 0x0D

	// DefaultMaxFrameBytes bounds a single MLLP frame (1 MiB).
	DefaultMaxFrameBytes = 1 << 20

	// DefaultReadTimeout is the per-read deadline on MLLP connections.
	DefaultReadTimeout = 30 * time.Second

	// stopDrainTimeout bounds how long Stop waits for in-flight
	// connections before closing them.
	stopDrainTimeout = 5 * time.Second
)

// Frame wraps raw HL7 bytes in MLLP framing: 0x0B + payload + 0x1C 0x0D.
func Frame(data []byte) []byte {
	out := make([]byte, 0, len(data)+3)
	out = append(out, MLLPStartBlock)
	out = append(out, data...)
	out = append(out, MLLPEndBlock, MLLPCarriageReturn)
	return out
}

// Unframe extracts one payload from buffered bytes. It returns the payload,
// the remaining bytes after the frame, and whether a complete frame was
// found. Partial frames stay in the buffer.
func Unframe(data []byte) (payload, rest []byte, found bool) {
	start := bytes.IndexByte(data, MLLPStartBlock)
	if start == -1 {
		return nil, data, false
	}
	end := bytes.Index(data[start+1:], []byte{MLLPEndBlock, MLLPCarriageReturn})
	if end == -1 {
		return nil, data, false
	}
	end = start + 1 + end
	return data[start+1 : end], data[end+2:], true
}

// Decoder accumulates a byte stream and emits complete MLLP payloads.
type Decoder struct {
	buf      []byte
	maxFrame int
}

// NewDecoder creates a Decoder with the given frame cap (0 = default 1 MiB).
func NewDecoder(maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Decoder{maxFrame: maxFrame}
}

// Write appends stream bytes. It fails with FRAMING_ERROR when the buffered
// partial frame exceeds the cap.
func (d *Decoder) Write(p []byte) error {
	d.buf = append(d.buf, p...)
	if len(d.buf) > d.maxFrame {
		d.buf = nil
		return diag.New(diag.FramingError, "frame exceeds %d bytes", d.maxFrame)
	}
	return nil
}

// Next returns the next complete payload, or found=false when none is
// buffered yet.
func (d *Decoder) Next() (payload []byte, found bool) {
	msg, rest, ok := Unframe(d.buf)
	if !ok {
		return nil, false
	}
	d.buf = rest
	return msg, true
}

// Handler processes one inbound payload and returns the framed-ready ACK
// bytes (nil = no response).
type Handler func(raw []byte) []byte

// Server listens for MLLP-framed HL7 messages over TCP. One goroutine is
// dedicated per connection so ACKs are returned in receive order.
type Server struct {
	addr        string
	handler     Handler
	maxFrame    int
	readTimeout time.Duration
	log         zerolog.Logger

	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates an MLLP server. maxFrame and readTimeout fall back to
// the package defaults when zero.
func NewServer(addr string, handler Handler, maxFrame int, readTimeout time.Duration, log zerolog.Logger) *Server {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Server{
		addr:        addr,
		handler:     handler,
		maxFrame:    maxFrame,
		readTimeout: readTimeout,
		log:         log,
		conns:       make(map[net.Conn]struct{}),
		done:        make(chan struct{}),
	}
}

// Start binds and begins accepting in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return diag.Wrap(diag.ConnectionRefused, err, "listen %s", s.addr)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Addr returns the bound address (useful with port 0).
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes the listener, lets in-flight connections drain briefly, then
// closes them and waits for all workers.
func (s *Server) Stop() error {
	close(s.done)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return err
	case <-time.After(stopDrainTimeout):
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Error().Err(err).Msg("mllp accept")
			return
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			defer conn.Close()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// serveConn reads frames and processes them strictly in order; the ACK for
// a message is written before the next message is handled.
func (s *Server) serveConn(conn net.Conn) {
	dec := NewDecoder(s.maxFrame)
	readBuf := make([]byte, 4096)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		n, err := conn.Read(readBuf)
		if n > 0 {
			if werr := dec.Write(readBuf[:n]); werr != nil {
				s.log.Warn().Err(werr).Str("remote", conn.RemoteAddr().String()).Msg("mllp framing")
				return
			}
			for {
				payload, ok := dec.Next()
				if !ok {
					break
				}
				resp := s.handler(payload)
				if resp == nil {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if _, werr := conn.Write(Frame(resp)); werr != nil {
					s.log.Error().Err(werr).Msg("mllp write")
					return
				}
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Idle with nothing buffered: close; otherwise keep
				// reading to finish the partial frame.
				if len(dec.buf) == 0 {
					return
				}
				continue
			}
			return
		}
	}
}
