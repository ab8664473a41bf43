package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/opd-ai/chatrelay/protocol"
)

// Options configures a Server.
type Options struct {
	// RateLimitRPS is the per-session sustained chat message rate.
	// Zero disables rate limiting.
	RateLimitRPS float64
	// RateLimitBurst is the per-session burst allowance. Defaults to
	// twice the RPS when zero.
	RateLimitBurst int
}

// Server accepts client connections, registers them, and runs their
// session loops. It owns the registry and the router; sessions
// communicate with each other only through the router's enqueues.
type Server struct {
	opts     Options
	registry *Registry
	counter  *ReceiptCounter
	router   *Router

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a server with the given options.
func NewServer(opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	registry := NewRegistry()
	counter := NewReceiptCounter()

	return &Server{
		opts:     opts,
		registry: registry,
		counter:  counter,
		router:   NewRouter(registry, counter),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry exposes the connection registry, mainly for inspection.
func (srv *Server) Registry() *Registry {
	return srv.registry
}

// Listen binds the address and starts accepting connections in the
// background. Use ":0" style addresses and Addr in tests.
func (srv *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv.listener = listener

	logrus.WithField("address", listener.Addr()).Info("Relay server listening")

	srv.wg.Add(1)
	go srv.acceptLoop()

	return nil
}

// Addr returns the bound listen address.
func (srv *Server) Addr() net.Addr {
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

// Shutdown stops accepting connections, closes every session, and waits
// for the loops to finish or the context to expire.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.cancel()
	if srv.listener != nil {
		srv.listener.Close()
	}
	for _, sess := range srv.registry.Sessions() {
		sess.close()
	}

	finished := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acceptLoop handles incoming connections until shutdown.
func (srv *Server) acceptLoop() {
	defer srv.wg.Done()

	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.ctx.Done():
				return
			default:
				logrus.WithField("error", err).Warn("Accept failed")
				continue
			}
		}

		srv.wg.Add(1)
		go srv.handleConn(conn)
	}
}

// newLimiter builds the per-session rate limiter, nil when disabled.
func (srv *Server) newLimiter() *rate.Limiter {
	if srv.opts.RateLimitRPS <= 0 {
		return nil
	}
	burst := srv.opts.RateLimitBurst
	if burst <= 0 {
		burst = int(2 * srv.opts.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(srv.opts.RateLimitRPS), burst)
}

// handleConn registers the connection, sends the welcome and roster,
// announces the join, and runs the session loops until disconnect.
func (srv *Server) handleConn(conn net.Conn) {
	defer srv.wg.Done()

	sess := newSession(conn, srv.newLimiter())
	id := srv.registry.Register(sess)
	metricConnections.Inc()

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		sess.writeLoop()
	}()

	// Welcome carries the assigned identity in the to field, followed
	// by the current roster (which includes the new client).
	sess.Enqueue(&protocol.Envelope{
		Type:      protocol.TypeSystem,
		To:        id,
		Text:      "welcome",
		Timestamp: time.Now(),
	})
	sess.Enqueue(&protocol.Envelope{
		Type:      protocol.TypeRoster,
		To:        id,
		Roster:    srv.registry.List(),
		Timestamp: time.Now(),
	})

	srv.announce(id, fmt.Sprintf("%s joined", id))

	sess.setState(StateActive)
	sess.readLoop(srv.dispatch)

	srv.registry.Unregister(id)
	metricConnections.Dec()
	srv.announce(id, fmt.Sprintf("%s left", id))
}

// dispatch handles one decoded envelope from a session's read loop.
func (srv *Server) dispatch(sess *Session, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeChat:
		// Route reports failures to the sender itself; nothing more
		// to do here.
		srv.router.Route(sess, env)
	case protocol.TypeRoster:
		sess.Enqueue(&protocol.Envelope{
			Type:      protocol.TypeRoster,
			To:        sess.ID(),
			Roster:    srv.registry.List(),
			Timestamp: time.Now(),
		})
	default:
		sess.Enqueue(protocol.ErrorEnvelope(sess.ID(), protocol.ReasonMalformedInput,
			fmt.Sprintf("unexpected %s envelope", env.Type)))
	}
}

// announce broadcasts a system notice and the updated roster to every
// session except the one named by exclude.
func (srv *Server) announce(exclude, notice string) {
	roster := srv.registry.List()
	now := time.Now()
	for _, sess := range srv.registry.Sessions() {
		if sess.ID() == exclude {
			continue
		}
		sess.Enqueue(&protocol.Envelope{
			Type:      protocol.TypeSystem,
			To:        sess.ID(),
			Text:      notice,
			Timestamp: now,
		})
		sess.Enqueue(&protocol.Envelope{
			Type:      protocol.TypeRoster,
			To:        sess.ID(),
			Roster:    roster,
			Timestamp: now,
		})
	}
}
