package relay

import (
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/opd-ai/chatrelay/protocol"
)

// ErrSessionClosed indicates an enqueue to a session that has entered
// Closing or Closed.
var ErrSessionClosed = errors.New("session closed")

// State is the lifecycle state of a server-side session.
type State uint8

const (
	// StateConnecting means the connection is accepted but no identity
	// is assigned yet.
	StateConnecting State = iota
	// StateRegistered means an identity is assigned and the welcome is
	// being sent.
	StateRegistered
	// StateActive means both the read and write loops are running.
	StateActive
	// StateClosing means teardown has started; no new envelopes are
	// accepted.
	StateClosing
	// StateClosed is terminal: the registry entry is removed and the
	// connection is closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// outboundBuffer is the per-session queue depth. The router blocks the
// sending client's read loop when a target's queue is full; it never
// blocks validation for other sessions.
const outboundBuffer = 64

// Session owns one client connection: its identity, its outbound queue,
// and its read/write loops. The registry owns the session exclusively;
// the router only borrows a reference to enqueue envelopes.
type Session struct {
	conn    net.Conn
	enc     *protocol.Encoder
	dec     *protocol.Decoder
	limiter *rate.Limiter

	outbound  chan *protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	id    string
	name  string
	state State
}

// newSession wraps an accepted connection. The session starts in
// Connecting; the registry moves it to Registered by assigning an
// identity via bind.
func newSession(conn net.Conn, limiter *rate.Limiter) *Session {
	return &Session{
		conn:     conn,
		enc:      protocol.NewEncoder(conn),
		dec:      protocol.NewDecoder(conn),
		limiter:  limiter,
		outbound: make(chan *protocol.Envelope, outboundBuffer),
		done:     make(chan struct{}),
		state:    StateConnecting,
	}
}

// bind assigns the identity. Called by the registry under its lock so
// registration is atomic with respect to lookups.
func (s *Session) bind(id string) {
	s.mu.Lock()
	s.id = id
	s.name = id
	s.state = StateRegistered
	s.mu.Unlock()
}

// ID returns the assigned identity, empty until registered.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Name returns the display name, which defaults to the identity.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Addr returns the remote address of the connection.
func (s *Session) Addr() net.Addr {
	return s.conn.RemoteAddr()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Enqueue queues an envelope on the session's outbound path. Envelopes
// are written to the wire in enqueue order. Enqueue blocks while the
// queue is full and fails with ErrSessionClosed once teardown starts.
func (s *Session) Enqueue(env *protocol.Envelope) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.outbound <- env:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// close starts teardown exactly once: pending enqueues are released,
// the in-flight write is cancelled by closing the connection, and the
// state machine moves through Closing to Closed.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		close(s.done)
		s.conn.Close()
		s.setState(StateClosed)
	})
}

// writeLoop drains the outbound queue onto the wire in order. Any write
// failure tears the session down.
func (s *Session) writeLoop() {
	for {
		select {
		case env := <-s.outbound:
			if err := s.enc.Write(env); err != nil {
				logrus.WithFields(logrus.Fields{
					"identity": s.ID(),
					"error":    err,
				}).Debug("Session write failed")
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop frames and decodes inbound lines, handing each envelope to
// dispatch. Malformed lines are answered with an error envelope and
// skipped; oversized records and I/O failures end the session.
func (s *Session) readLoop(dispatch func(*Session, *protocol.Envelope)) {
	defer s.close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		env, err := s.dec.Read()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				logrus.WithFields(logrus.Fields{
					"identity": s.ID(),
					"error":    err,
				}).Warn("Discarding malformed line")
				s.Enqueue(protocol.ErrorEnvelope(s.ID(), protocol.ReasonMalformedInput, ""))
				continue
			}
			if errors.Is(err, protocol.ErrLineTooLong) {
				s.Enqueue(protocol.ErrorEnvelope(s.ID(), protocol.ReasonMalformedInput, "line too long"))
			}
			return
		}

		if env.Type == protocol.TypeChat && s.limiter != nil && !s.limiter.Allow() {
			s.Enqueue(protocol.ErrorEnvelope(s.ID(), protocol.ReasonRateLimited, ""))
			continue
		}

		dispatch(s, env)
	}
}
