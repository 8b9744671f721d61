// Package consumer drains the durable delivery queue: lease, send
// through the relay, record, complete. It runs outside the request path
// and is the queued transport's other half.
package consumer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"courier/internal/dispatch"
	"courier/internal/eventbus"
	"courier/internal/storage"
	"courier/internal/transport/queue"
	logx "courier/pkg/logx"

	"golang.org/x/time/rate"
)

// Sender performs the actual relay send for a leased entry.
// The inline SMTP transport satisfies this.
type Sender interface {
	Deliver(ctx context.Context, m storage.Message, idempotencyKey string) error
}

// Config controls the worker pool.
type Config struct {
	Workers       int
	BatchSize     int
	PollInterval  time.Duration
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	Lease         time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Minute
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	return c
}

// Service is the queue consumer.
//
// Leasing is at-least-once: a crashed worker's entries come back after
// the lease expires, so a send may be repeated. Recording stays
// at-most-once because every envelope carries an idempotency key and the
// Recorder inserts-if-absent on it.
type Service struct {
	mu sync.Mutex

	cfg      Config
	store    storage.Store
	sender   Sender
	recorder *dispatch.Recorder
	bus      eventbus.Bus
	log      logx.Logger

	limiter *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, store storage.Store, sender Sender, recorder *dispatch.Recorder, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		sender:   sender,
		recorder: recorder,
		bus:      bus,
		log:      log.With(logx.String("comp", "consumer")),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start launches the worker pool. Idempotent while running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.workerLoop(runCtx, idx)
		}()
	}
	s.log.Info("consumer started", logx.Int("workers", s.cfg.Workers))
}

// Stop cancels the workers and waits for in-flight entries, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) workerLoop(ctx context.Context, idx int) {
	log := s.log.With(logx.Int("worker", idx))
	// Stagger the first poll so workers don't hammer the store in lockstep.
	wait := time.Duration(rand.Int63n(int64(s.cfg.PollInterval) + 1))
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait = s.cfg.PollInterval

		entries, err := s.store.LeaseDeliveries(ctx, s.cfg.BatchSize, s.cfg.Lease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("lease failed", logx.Err(err))
			continue
		}
		for _, e := range entries {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.process(ctx, log, e)
		}
		// Drain faster while the queue has work.
		if len(entries) == s.cfg.BatchSize {
			wait = 0
		}
	}
}

func (s *Service) process(ctx context.Context, log logx.Logger, e storage.QueueEntry) {
	env, err := queue.DecodeEnvelope(e.Payload)
	if err != nil {
		// Undecodable entries can never succeed; park them for inspection.
		log.Error("dead-lettering undecodable entry", logx.Int64("queue_id", e.ID), logx.Err(err))
		_ = s.store.MarkDeliveryDead(ctx, e.ID)
		return
	}
	msg := env.Message()

	if err := s.sender.Deliver(ctx, msg, env.IdempotencyKey); err != nil {
		s.handleFailure(ctx, log, e, env, err)
		return
	}

	// Record before completing: if we crash in between, the redelivered
	// entry hits the idempotency key and records nothing twice.
	id, err := s.recorder.Record(ctx, msg, env.IdempotencyKey)
	if err != nil {
		log.Error("record failed, releasing for retry", logx.Int64("queue_id", e.ID), logx.Err(err))
		_ = s.store.ReleaseDelivery(ctx, e.ID, s.backoff(e.Attempts))
		return
	}
	if err := s.store.CompleteDelivery(ctx, e.ID); err != nil {
		// The record exists; redelivery is harmless. Log and move on.
		log.Warn("complete failed", logx.Int64("queue_id", e.ID), logx.Err(err))
	}

	s.publish(eventbus.TypeSent, eventbus.DeliveryEvent{
		Recipient: msg.Recipient, Subject: msg.Subject, MessageID: id, QueueID: e.ID, Attempt: e.Attempts,
	})
	log.Debug("queued delivery sent",
		logx.Int64("queue_id", e.ID),
		logx.Int64("message_id", id),
		logx.String("recipient", msg.Recipient),
	)
}

func (s *Service) handleFailure(ctx context.Context, log logx.Logger, e storage.QueueEntry, env queue.Envelope, cause error) {
	s.publish(eventbus.TypeFailed, eventbus.DeliveryEvent{
		Recipient: env.Recipient, Subject: env.Subject, QueueID: e.ID, Attempt: e.Attempts, Error: cause.Error(),
	})

	if e.Attempts >= s.cfg.RetryMax {
		log.Error("delivery exhausted retries",
			logx.Int64("queue_id", e.ID),
			logx.Int("attempts", e.Attempts),
			logx.Err(cause),
		)
		_ = s.store.MarkDeliveryDead(ctx, e.ID)
		s.publish(eventbus.TypeDead, eventbus.DeliveryEvent{
			Recipient: env.Recipient, Subject: env.Subject, QueueID: e.ID, Attempt: e.Attempts, Error: cause.Error(),
		})
		return
	}

	delay := s.backoff(e.Attempts)
	log.Warn("delivery failed, retrying",
		logx.Int64("queue_id", e.ID),
		logx.Int("attempt", e.Attempts),
		logx.Duration("retry_in", delay),
		logx.Err(cause),
	)
	_ = s.store.ReleaseDelivery(ctx, e.ID, delay)
}

// backoff returns the jittered exponential delay for the given attempt
// count (1-based).
func (s *Service) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := s.cfg.RetryBase << (attempt - 1)
	if d > s.cfg.RetryMaxDelay || d <= 0 {
		d = s.cfg.RetryMaxDelay
	}
	// Up to 25% jitter so retries from one outage spread out.
	j := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + j
}

func (s *Service) publish(typ string, data eventbus.DeliveryEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
