package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/chatrelay/history"
	"github.com/opd-ai/chatrelay/protocol"
	"github.com/opd-ai/chatrelay/relay"
)

// harness is one connected client plus channels fed by its callbacks.
type harness struct {
	c        *Client
	chats    chan *protocol.Envelope
	receipts chan uint64
	errors   chan string
	expires  chan uint64
	rosters  chan []string
}

func startServer(t *testing.T) *relay.Server {
	t.Helper()
	srv := relay.NewServer(relay.Options{})
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func connect(t *testing.T, srv *relay.Server) *harness {
	t.Helper()

	h := &harness{
		chats:    make(chan *protocol.Envelope, 16),
		receipts: make(chan uint64, 16),
		errors:   make(chan string, 16),
		expires:  make(chan uint64, 16),
		rosters:  make(chan []string, 16),
	}
	c, err := Dial(srv.Addr().String(), Events{
		OnChat:    func(env *protocol.Envelope) { h.chats <- env },
		OnReceipt: func(id uint64, target string) { h.receipts <- id },
		OnError:   func(text string) { h.errors <- text },
		OnExpire:  func(seq uint64) { h.expires <- seq },
		OnRoster:  func(r []string) { h.rosters <- r },
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	h.c = c
	return h
}

func waitChat(t *testing.T, h *harness) *protocol.Envelope {
	t.Helper()
	select {
	case env := <-h.chats:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for chat")
		return nil
	}
}

func waitReceipt(t *testing.T, h *harness) uint64 {
	t.Helper()
	select {
	case id := <-h.receipts:
		return id
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for receipt")
		return 0
	}
}

// TestScenarioMessageAndReply replays the reference exchange end to end:
// C001 messages C002, gets a receipt for id 1, and C002 threads a reply
// to message 1.
func TestScenarioMessageAndReply(t *testing.T) {
	srv := startServer(t)

	h1 := connect(t, srv)
	h2 := connect(t, srv)
	require.Equal(t, "C001", h1.c.ID())
	require.Equal(t, "C002", h2.c.ID())

	_, err := h1.c.Send("C002", "hello")
	require.NoError(t, err)

	chat := waitChat(t, h2)
	assert.Equal(t, "C001", chat.From)
	assert.Equal(t, "hello", chat.Text)
	assert.Equal(t, uint64(1), chat.MessageID)

	assert.Equal(t, uint64(1), waitReceipt(t, h1))

	// The receipt reconciled C001's outbound placeholder.
	sent, ok := h1.c.History().Find(1)
	require.True(t, ok, "outbound entry not reconciled to id 1")
	assert.Equal(t, history.Out, sent.Direction)
	assert.Equal(t, "hello", sent.Text)

	// C002 replies to message 1; the peer comes from its history.
	_, err = h2.c.Reply(1, "hi there")
	require.NoError(t, err)

	reply := waitChat(t, h1)
	assert.Equal(t, "C002", reply.From)
	assert.Equal(t, "hi there", reply.Text)
	assert.Equal(t, uint64(1), reply.ReplyTo)
	waitReceipt(t, h2)
}

// TestReplyUnknownID tests that replying to an id absent from local
// history fails and sends nothing.
func TestReplyUnknownID(t *testing.T) {
	srv := startServer(t)

	h1 := connect(t, srv)
	h2 := connect(t, srv)

	_, err := h1.c.Reply(42, "to nobody")
	assert.ErrorIs(t, err, ErrReplyTargetNotFound)

	// Nothing reached C002.
	select {
	case env := <-h2.chats:
		t.Fatalf("unexpected delivery: %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 0, h1.c.History().Len(), "failed reply must not be recorded")
}

// TestScenarioTemporaryMessage replays the temp-message scenario: the
// sender's copy expires, the recipient's copy is unaffected.
func TestScenarioTemporaryMessage(t *testing.T) {
	srv := startServer(t)

	h1 := connect(t, srv)
	h2 := connect(t, srv)

	_, err := h1.c.SendTemp("C002", "gone soon", 200*time.Millisecond)
	require.NoError(t, err)

	waitChat(t, h2)
	waitReceipt(t, h1)

	// Present for the sender before expiry.
	require.Len(t, h1.c.Search("gone"), 1)

	select {
	case <-h1.expires:
	case <-time.After(3 * time.Second):
		t.Fatal("expiry never fired")
	}

	assert.Empty(t, h1.c.Search("gone"), "sender copy must be gone after expiry")
	assert.Len(t, h2.c.Search("gone"), 1, "recipient copy must be unaffected")
}

// TestSendToUnknownTarget tests the error envelope surface.
func TestSendToUnknownTarget(t *testing.T) {
	srv := startServer(t)
	h1 := connect(t, srv)

	_, err := h1.c.Send("C099", "anyone?")
	require.NoError(t, err, "send itself succeeds; the failure comes back async")

	select {
	case text := <-h1.errors:
		assert.Contains(t, text, protocol.ReasonTargetNotFound)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for error envelope")
	}
}

// TestRosterRequest tests /list-style roster refresh.
func TestRosterRequest(t *testing.T) {
	srv := startServer(t)

	h1 := connect(t, srv)
	connect(t, srv)

	require.NoError(t, h1.c.RequestRoster())

	deadline := time.After(3 * time.Second)
	for {
		select {
		case roster := <-h1.rosters:
			if len(roster) == 2 {
				assert.ElementsMatch(t, []string{"C001", "C002"}, roster)
				assert.ElementsMatch(t, []string{"C001", "C002"}, h1.c.Roster())
				return
			}
		case <-deadline:
			t.Fatal("never saw the two-client roster")
		}
	}
}

// TestExecuteCommands drives the command surface end to end.
func TestExecuteCommands(t *testing.T) {
	srv := startServer(t)

	h1 := connect(t, srv)
	h2 := connect(t, srv)

	out, err := Execute(h1.c, "/msg C002 hello from the cli")
	require.NoError(t, err)
	assert.Contains(t, out, "C002")

	chat := waitChat(t, h2)
	assert.Equal(t, "hello from the cli", chat.Text)
	waitReceipt(t, h1)

	out, err = Execute(h1.c, "/search cli")
	require.NoError(t, err)
	assert.Contains(t, out, "hello from the cli")

	_, err = Execute(h1.c, "/reply 999 nope")
	assert.ErrorIs(t, err, ErrReplyTargetNotFound)

	_, err = Execute(h1.c, "/bogus")
	assert.ErrorIs(t, err, ErrUsage)

	_, err = Execute(h1.c, "/exit")
	assert.ErrorIs(t, err, ErrExit)
}

// TestCloseCancelsExpiry tests that closing the client while a temp
// message is pending leaves the history untouched.
func TestCloseCancelsExpiry(t *testing.T) {
	srv := startServer(t)

	h1 := connect(t, srv)
	h2 := connect(t, srv)

	_, err := h1.c.SendTemp("C002", "outlive the session", 150*time.Millisecond)
	require.NoError(t, err)
	waitChat(t, h2)

	h1.c.Close()
	time.Sleep(300 * time.Millisecond)

	// The entry survives because teardown cancelled the timer.
	assert.Len(t, h1.c.Search("outlive"), 1)

	_, err = h1.c.Send("C002", "after close")
	assert.ErrorIs(t, err, ErrClosed)
}

// TestDisconnectCallback tests connection-loss reporting.
func TestDisconnectCallback(t *testing.T) {
	srv := startServer(t)

	lost := make(chan error, 1)
	c, err := Dial(srv.Addr().String(), Events{
		OnDisconnect: func(err error) { lost <- err },
	})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-lost:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("OnDisconnect never fired")
	}
}
