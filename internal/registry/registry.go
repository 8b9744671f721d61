// Package registry owns the recipient registry: plain keyed persistence
// of contacts with no invariants beyond id uniqueness. The dispatch core
// only ever reads it, through ResolveContact.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"courier/internal/eventbus"
	"courier/internal/storage"
	logx "courier/pkg/logx"
)

type Service struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
}

func New(store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, bus: bus, log: log}
}

// ResolveContact is the read the dispatch core depends on.
// Absence is a valid outcome, not an error.
func (s *Service) ResolveContact(ctx context.Context, id int64) (storage.Contact, bool, error) {
	return s.store.ContactByID(ctx, id)
}

func (s *Service) Create(ctx context.Context, c storage.Contact) (storage.Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	id, err := s.store.CreateContact(ctx, c)
	if err != nil {
		return storage.Contact{}, fmt.Errorf("create contact: %w", err)
	}
	c.ID = id
	s.log.Debug("contact created", logx.Int64("id", id), logx.String("email", c.Email))
	return c, nil
}

func (s *Service) Get(ctx context.Context, id int64) (storage.Contact, bool, error) {
	return s.store.ContactByID(ctx, id)
}

func (s *Service) List(ctx context.Context, age *int) ([]storage.Contact, error) {
	return s.store.Contacts(ctx, age)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteContact(ctx, id)
}

// Seed inserts the demo contacts when the registry is empty.
func (s *Service) Seed(ctx context.Context) error {
	existing, err := s.store.Contacts(ctx, nil)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, c := range []storage.Contact{
		{Name: "Kurt Cobain", Email: "kurt@example.com", Age: 27},
		{Name: "Jimi Hendrix", Email: "jimi@example.com", Age: 27},
		{Name: "Michael Jackson", Email: "michael@example.com", Age: 50},
	} {
		if _, err := s.store.CreateContact(ctx, c); err != nil {
			return fmt.Errorf("seed contacts: %w", err)
		}
	}
	s.log.Info("registry seeded", logx.Int("contacts", 3))
	return nil
}

// Reset is the administrative bulk clear: wipes messages, contacts and
// pending deliveries, then reseeds. Nothing in the dispatch core calls it.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := s.Seed(ctx); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeContactsReset, Time: time.Now()})
	}
	s.log.Info("store reset")
	return nil
}
