package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatrelay/protocol"
)

var (
	// ErrTargetNotFound indicates a chat envelope addressed to an
	// identity that is not currently registered.
	ErrTargetNotFound = errors.New("target not found")
	// ErrDeliveryFailed indicates the target session closed between
	// validation and delivery.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// Router validates and forwards chat envelopes between sessions. It
// stamps each accepted envelope with a message id from the receipt
// counter and sends a receipt back to the sender after the forward has
// been attempted. Both failure modes are reported to the sender as an
// error envelope; the sender's session stays open either way.
type Router struct {
	registry *Registry
	counter  *ReceiptCounter
}

// NewRouter creates a router over the given registry and counter.
func NewRouter(registry *Registry, counter *ReceiptCounter) *Router {
	return &Router{
		registry: registry,
		counter:  counter,
	}
}

// Route forwards a chat envelope from the sender to its target. The
// inbound envelope is not mutated; a stamped copy goes to the target.
func (rt *Router) Route(sender *Session, env *protocol.Envelope) error {
	target, ok := rt.registry.Lookup(env.To)
	if !ok {
		metricRouteErrors.WithLabelValues(protocol.ReasonTargetNotFound).Inc()
		sender.Enqueue(protocol.ErrorEnvelope(sender.ID(), protocol.ReasonTargetNotFound, env.To))
		return fmt.Errorf("%w: %s", ErrTargetNotFound, env.To)
	}

	now := time.Now()
	stamped := &protocol.Envelope{
		Type:      protocol.TypeChat,
		From:      sender.ID(),
		To:        env.To,
		Text:      env.Text,
		MessageID: rt.counter.Next(),
		ReplyTo:   env.ReplyTo,
		Timestamp: now,
	}

	if err := target.Enqueue(stamped); err != nil {
		metricRouteErrors.WithLabelValues(protocol.ReasonDeliveryFailed).Inc()
		sender.Enqueue(protocol.ErrorEnvelope(sender.ID(), protocol.ReasonDeliveryFailed, env.To))
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, env.To)
	}
	metricMessagesRouted.Inc()

	// Receipt goes out strictly after the forward attempt. Its To field
	// names the delivery target so the sender can reconcile its local
	// history entry.
	receipt := &protocol.Envelope{
		Type:      protocol.TypeReceipt,
		To:        env.To,
		MessageID: stamped.MessageID,
		Timestamp: time.Now(),
	}
	if err := sender.Enqueue(receipt); err != nil {
		// Sender went away before its receipt; the forward already
		// happened, nothing to undo.
		logrus.WithFields(logrus.Fields{
			"sender":     sender.ID(),
			"message_id": stamped.MessageID,
		}).Debug("Receipt dropped, sender closed")
		return nil
	}
	metricReceiptsSent.Inc()

	logrus.WithFields(logrus.Fields{
		"from":       stamped.From,
		"to":         stamped.To,
		"message_id": stamped.MessageID,
		"reply_to":   stamped.ReplyTo,
	}).Debug("Chat envelope routed")

	return nil
}
