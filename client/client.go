// Package client implements the client side of the chatrelay protocol:
// connecting, the concurrent read loop, local history with reply lookup
// and keyword search, and self-expiring temporary messages.
//
// Example:
//
//	c, err := client.Dial("127.0.0.1:5555", client.Events{
//	    OnChat: func(env *protocol.Envelope) {
//	        fmt.Printf("%s: %s\n", env.From, env.Text)
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	c.Send("C002", "hello")
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatrelay/history"
	"github.com/opd-ai/chatrelay/protocol"
)

var (
	// ErrReplyTargetNotFound indicates a /reply referencing a message id
	// absent from the local history. Nothing is sent.
	ErrReplyTargetNotFound = errors.New("reply target not found in local history")
	// ErrClosed indicates an operation on a closed client.
	ErrClosed = errors.New("client closed")
	// ErrBadWelcome indicates the server did not open with the expected
	// welcome handshake.
	ErrBadWelcome = errors.New("unexpected welcome handshake")
)

// handshakeTimeout bounds the wait for the welcome and initial roster.
const handshakeTimeout = 10 * time.Second

// Events are optional callbacks invoked from the read loop and expiry
// timers. Callbacks must not block; a blocking callback stalls inbound
// delivery.
type Events struct {
	// OnChat fires for every inbound chat envelope, after it has been
	// appended to the local history.
	OnChat func(env *protocol.Envelope)
	// OnReceipt fires when a delivery receipt arrives, after the local
	// history entry has been reconciled to the server-assigned id.
	OnReceipt func(messageID uint64, target string)
	// OnRoster fires when the connected-identity list changes or a
	// roster request is answered.
	OnRoster func(roster []string)
	// OnSystem fires for informational messages.
	OnSystem func(text string)
	// OnError fires for error envelopes from the server.
	OnError func(text string)
	// OnExpire fires after a temporary message has been removed from
	// the local history.
	OnExpire func(localSeq uint64)
	// OnDisconnect fires once when the connection is lost, with the
	// terminal error. It does not fire on a local Close.
	OnDisconnect func(err error)
}

// Client is one connected chat session. Its read loop, the caller's
// input path, and expiry timers run concurrently; the history store is
// the only state they share.
type Client struct {
	conn   net.Conn
	enc    *protocol.Encoder
	dec    *protocol.Decoder
	id     string
	events Events

	store  *history.Store
	expiry *history.Scheduler

	mu     sync.RWMutex
	roster []string

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a relay server, completes the welcome handshake, and
// starts the read loop.
func Dial(addr string, events Events) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &Client{
		conn:   conn,
		enc:    protocol.NewEncoder(conn),
		dec:    protocol.NewDecoder(conn),
		events: events,
		store:  history.NewStore(),
		done:   make(chan struct{}),
	}
	c.expiry = history.NewScheduler(c.store, c.expired)

	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"identity": c.id,
		"server":   addr,
	}).Info("Connected")

	go c.readLoop()
	return c, nil
}

// handshake consumes the welcome (which names the assigned identity)
// and the initial roster. They are the first two envelopes the server
// sends on a new connection.
func (c *Client) handshake() error {
	if err := c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return err
	}
	defer c.conn.SetReadDeadline(time.Time{})

	welcome, err := c.dec.Read()
	if err != nil {
		return fmt.Errorf("reading welcome: %w", err)
	}
	if welcome.Type != protocol.TypeSystem || welcome.To == "" {
		return fmt.Errorf("%w: got %s envelope", ErrBadWelcome, welcome.Type)
	}
	c.id = welcome.To

	roster, err := c.dec.Read()
	if err != nil {
		return fmt.Errorf("reading initial roster: %w", err)
	}
	if roster.Type != protocol.TypeRoster {
		return fmt.Errorf("%w: got %s envelope instead of roster", ErrBadWelcome, roster.Type)
	}
	c.setRoster(roster.Roster)
	return nil
}

// ID returns the identity the server assigned to this session.
func (c *Client) ID() string {
	return c.id
}

// History exposes the local message record.
func (c *Client) History() *history.Store {
	return c.store
}

// Roster returns the most recently received identity list.
func (c *Client) Roster() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.roster))
	copy(out, c.roster)
	return out
}

func (c *Client) setRoster(roster []string) {
	c.mu.Lock()
	c.roster = roster
	c.mu.Unlock()
}

// Send routes a chat message to the identity to. It returns the local
// history sequence of the recorded entry; the server-assigned message
// id arrives later with the receipt.
func (c *Client) Send(to, text string) (uint64, error) {
	return c.sendChat(to, text, 0, 0)
}

// Reply sends a message threaded to an earlier message id. The id must
// exist in the local history; its peer becomes the target. An unknown
// id fails with ErrReplyTargetNotFound and sends nothing.
func (c *Client) Reply(messageID uint64, text string) (uint64, error) {
	entry, ok := c.store.Find(messageID)
	if !ok {
		return 0, fmt.Errorf("%w: #%d", ErrReplyTargetNotFound, messageID)
	}
	return c.sendChat(entry.Peer, text, messageID, 0)
}

// SendTemp sends a chat message whose local history entry expires after
// ttl. Only the sender's copy is removed; the recipient keeps theirs
// and is never told the message was temporary.
func (c *Client) SendTemp(to, text string, ttl time.Duration) (uint64, error) {
	seq, err := c.sendChat(to, text, 0, ttl)
	if err != nil {
		return 0, err
	}
	if err := c.expiry.Schedule(seq, ttl); err != nil {
		return seq, err
	}
	return seq, nil
}

// sendChat writes the envelope and records the outbound entry with a
// placeholder id, reconciled when the receipt arrives.
func (c *Client) sendChat(to, text string, replyTo uint64, ttl time.Duration) (uint64, error) {
	select {
	case <-c.done:
		return 0, ErrClosed
	default:
	}

	env := &protocol.Envelope{
		Type:    protocol.TypeChat,
		To:      to,
		Text:    text,
		ReplyTo: replyTo,
	}
	if err := c.enc.Write(env); err != nil {
		return 0, fmt.Errorf("send chat: %w", err)
	}

	entry := history.Entry{
		Direction: history.Out,
		Peer:      to,
		Text:      text,
		Timestamp: time.Now(),
		ReplyTo:   replyTo,
	}
	if ttl > 0 {
		entry.TempUntil = time.Now().Add(ttl)
	}
	return c.store.Append(entry), nil
}

// Search returns the non-deleted history entries containing keyword,
// case-insensitively, in chronological order.
func (c *Client) Search(keyword string) []history.Entry {
	return c.store.Search(keyword)
}

// RequestRoster asks the server for the current identity list; the
// answer arrives through OnRoster.
func (c *Client) RequestRoster() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return c.enc.Write(&protocol.Envelope{Type: protocol.TypeRoster})
}

// Close ends the session: pending expiry timers are cancelled, the
// connection is closed, and the read loop stops. Safe to call more
// than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.expiry.Close()
		c.conn.Close()
		logrus.WithField("identity", c.id).Info("Disconnected")
	})
	return nil
}

// expired runs on an expiry timer after the store entry was marked
// deleted.
func (c *Client) expired(localSeq uint64) {
	if c.events.OnExpire != nil {
		c.events.OnExpire(localSeq)
	}
}

// readLoop consumes server envelopes until the connection ends.
// Malformed lines are logged and skipped.
func (c *Client) readLoop() {
	for {
		env, err := c.dec.Read()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				logrus.WithField("error", err).Warn("Discarding malformed server line")
				continue
			}
			select {
			case <-c.done:
				// Local close, not a connection loss.
			default:
				c.Close()
				if c.events.OnDisconnect != nil {
					c.events.OnDisconnect(err)
				}
			}
			return
		}
		c.handle(env)
	}
}

// handle updates local state for one inbound envelope, then invokes the
// matching callback.
func (c *Client) handle(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeChat:
		c.store.Append(history.Entry{
			ID:        env.MessageID,
			Direction: history.In,
			Peer:      env.From,
			Text:      env.Text,
			Timestamp: env.Timestamp,
			ReplyTo:   env.ReplyTo,
		})
		if c.events.OnChat != nil {
			c.events.OnChat(env)
		}
	case protocol.TypeReceipt:
		c.store.Reconcile(env.To, env.MessageID)
		if c.events.OnReceipt != nil {
			c.events.OnReceipt(env.MessageID, env.To)
		}
	case protocol.TypeRoster:
		c.setRoster(env.Roster)
		if c.events.OnRoster != nil {
			c.events.OnRoster(env.Roster)
		}
	case protocol.TypeSystem:
		if c.events.OnSystem != nil {
			c.events.OnSystem(env.Text)
		}
	case protocol.TypeError:
		logrus.WithField("reason", env.Text).Warn("Server reported error")
		if c.events.OnError != nil {
			c.events.OnError(env.Text)
		}
	}
}
