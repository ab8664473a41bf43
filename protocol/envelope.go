// Package protocol implements the wire format for the chatrelay protocol.
//
// Every message exchanged between client and server is one Envelope,
// serialized as a single JSON object terminated by a newline. The newline
// is the record boundary; there is no length prefix.
//
// Example:
//
//	env := &protocol.Envelope{
//	    Type: protocol.TypeChat,
//	    To:   "C002",
//	    Text: "hello",
//	}
//	if err := enc.Write(env); err != nil {
//	    log.Fatal(err)
//	}
package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Type identifies the kind of an Envelope.
type Type string

const (
	// TypeChat is a user message routed from one client to another.
	TypeChat Type = "chat"
	// TypeReceipt confirms to the original sender that a chat message
	// was forwarded to its target.
	TypeReceipt Type = "receipt"
	// TypeError reports a failure to the offending party.
	TypeError Type = "error"
	// TypeRoster carries the list of connected identities. A roster
	// envelope without identities is a client request for the current
	// roster.
	TypeRoster Type = "roster"
	// TypeSystem is an informational message (welcome, join/leave notices).
	TypeSystem Type = "system"
)

// Error reason codes carried in the text field of error envelopes.
const (
	ReasonTargetNotFound = "target_not_found"
	ReasonDeliveryFailed = "delivery_failed"
	ReasonMalformedInput = "malformed_input"
	ReasonRateLimited    = "rate_limited"
)

var (
	// ErrUnknownType indicates an envelope with an unrecognized type.
	ErrUnknownType = errors.New("unknown envelope type")
	// ErrMissingField indicates an envelope missing a field its type requires.
	ErrMissingField = errors.New("missing required field")
)

// Envelope is one protocol message.
//
// MessageID and Timestamp are stamped by the server when the router
// accepts a chat envelope; clients leave them zero on send. ReplyTo
// optionally references an earlier message id and is not validated by
// the server. An envelope is immutable once written to the wire.
type Envelope struct {
	Type      Type      `json:"type"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Text      string    `json:"text,omitempty"`
	MessageID uint64    `json:"message_id,omitempty"`
	ReplyTo   uint64    `json:"reply_to,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Roster    []string  `json:"roster,omitempty"`
}

// Validate checks that the envelope carries the fields its type requires.
// It validates structure only; whether a target identity exists is the
// router's concern.
func (e *Envelope) Validate() error {
	switch e.Type {
	case TypeChat:
		if e.To == "" {
			return fmt.Errorf("%w: chat requires to", ErrMissingField)
		}
		if e.Text == "" {
			return fmt.Errorf("%w: chat requires text", ErrMissingField)
		}
	case TypeReceipt:
		if e.MessageID == 0 {
			return fmt.Errorf("%w: receipt requires message_id", ErrMissingField)
		}
	case TypeError, TypeSystem:
		if e.Text == "" {
			return fmt.Errorf("%w: %s requires text", ErrMissingField, e.Type)
		}
	case TypeRoster:
		// A roster envelope with no identities is a roster request.
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return nil
}

// ErrorEnvelope builds an error envelope with the given reason code and
// detail, addressed to the offending party.
func ErrorEnvelope(to, reason, detail string) *Envelope {
	text := reason
	if detail != "" {
		text = reason + ": " + detail
	}
	return &Envelope{
		Type:      TypeError,
		To:        to,
		Text:      text,
		Timestamp: time.Now(),
	}
}
