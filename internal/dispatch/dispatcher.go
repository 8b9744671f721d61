package dispatch

import (
	"context"
	"fmt"
	"time"

	"courier/internal/eventbus"
	logx "courier/pkg/logx"

	"github.com/google/uuid"
)

// Dispatcher orchestrates one delivery: resolve, compose, deliver,
// record. Collaborators are injected once at construction; the transport
// choice is process-wide, not per call.
type Dispatcher struct {
	resolver  Resolver
	transport Transport
	recorder  *Recorder
	sender    string
	bus       eventbus.Bus
	log       logx.Logger
}

func NewDispatcher(resolver Resolver, transport Transport, recorder *Recorder, sender string, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		resolver:  resolver,
		transport: transport,
		recorder:  recorder,
		sender:    sender,
		bus:       bus,
		log:       log,
	}
}

// Dispatch performs a single delivery attempt and returns a receipt with
// the targeted address.
//
// Unknown contact → ErrContactNotFound, nothing sent or recorded.
// Transport failure → *TransportError, nothing recorded.
// On the inline transport the message is recorded before returning; on
// the queued transport the receipt confirms enqueue and the consumer
// records later.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Receipt, error) {
	contact, ok, err := d.resolver.ResolveContact(ctx, req.ContactID)
	if err != nil {
		return Receipt{}, fmt.Errorf("resolve contact %d: %w", req.ContactID, err)
	}
	if !ok {
		return Receipt{}, ErrContactNotFound
	}

	msg := Compose(req, contact, d.sender)

	key := req.IdempotencyKey
	if key == "" && !d.transport.Inline() {
		// Queue redelivery is at-least-once, so the queued path always
		// needs a key to keep recording at-most-once.
		key = uuid.NewString()
	}

	if err := d.transport.Deliver(ctx, msg, key); err != nil {
		d.publish(eventbus.TypeFailed, eventbus.DeliveryEvent{
			Recipient: msg.Recipient, Subject: msg.Subject, Error: err.Error(),
		})
		if IsTransport(err) {
			return Receipt{}, err
		}
		return Receipt{}, &TransportError{Transport: d.transport.Name(), Err: err}
	}

	if d.transport.Inline() {
		id, err := d.recorder.Record(ctx, msg, key)
		if err != nil {
			return Receipt{}, err
		}
		d.publish(eventbus.TypeSent, eventbus.DeliveryEvent{
			Recipient: msg.Recipient, Subject: msg.Subject, MessageID: id,
		})
	} else {
		d.publish(eventbus.TypeEnqueued, eventbus.DeliveryEvent{
			Recipient: msg.Recipient, Subject: msg.Subject,
		})
	}

	d.publish(eventbus.TypeDispatched, eventbus.DeliveryEvent{
		Recipient: msg.Recipient, Subject: msg.Subject,
	})
	d.log.Info("dispatched",
		logx.Int64("contact_id", req.ContactID),
		logx.String("recipient", contact.Email),
		logx.String("transport", d.transport.Name()),
	)
	return Receipt{Email: contact.Email}, nil
}

func (d *Dispatcher) publish(typ string, data eventbus.DeliveryEvent) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
