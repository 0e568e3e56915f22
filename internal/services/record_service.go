package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"kakeibo/internal/amqp"
	"kakeibo/internal/core"
	"kakeibo/internal/storage"
)

// EventPublisher receives record changes after they are persisted.
type EventPublisher interface {
	PublishRecordEvent(ctx context.Context, ev *amqp.RecordEvent) error
}

// MutationObserver is told about every persisted mutation. Used for metrics.
type MutationObserver interface {
	ObserveMutation(op string)
}

// RecordService runs every operation against the store under one lock, so
// two load-modify-save cycles never interleave.
type RecordService struct {
	mu        sync.Mutex
	store     storage.Store
	publisher EventPublisher
	observer  MutationObserver
	newID     func() string
}

// Option customises a RecordService.
type Option func(*RecordService)

func WithPublisher(p EventPublisher) Option {
	return func(s *RecordService) { s.publisher = p }
}

func WithObserver(o MutationObserver) Option {
	return func(s *RecordService) { s.observer = o }
}

// WithIDGenerator replaces the uuid generator, mainly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(s *RecordService) { s.newID = fn }
}

func NewRecordService(store storage.Store, opts ...Option) *RecordService {
	s := &RecordService{
		store: store,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the full collection in insertion order.
func (s *RecordService) List(ctx context.Context) (core.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return c, nil
}

// Total sums every amount.
func (s *RecordService) Total(ctx context.Context) (float64, error) {
	c, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return c.Total(), nil
}

// Summary sums amounts per category.
func (s *RecordService) Summary(ctx context.Context) (map[string]float64, error) {
	c, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return c.Summary(), nil
}

// Create validates the payload, assigns a fresh id and appends the record.
func (s *RecordService) Create(ctx context.Context, f core.Fields) (core.Record, error) {
	r, err := core.NewRecord(f)
	if err != nil {
		return core.Record{}, err
	}

	r, err = s.create(ctx, r)
	if err != nil {
		return core.Record{}, err
	}
	s.publish(ctx, amqp.EventRecordCreated, r)
	return r, nil
}

func (s *RecordService) create(ctx context.Context, r core.Record) (core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Load(ctx)
	if err != nil {
		return core.Record{}, fmt.Errorf("load records: %w", err)
	}

	r.ID = s.uniqueID(c)
	c = append(c, r)

	if err := s.store.Save(ctx, c); err != nil {
		return core.Record{}, fmt.Errorf("save records: %w", err)
	}

	slog.InfoContext(ctx, "Record created",
		"id", r.ID,
		"category", r.Category,
		"amount", r.Amount,
		"records", len(c))
	s.observe(amqp.EventRecordCreated)
	return r, nil
}

// Update merges f into the record with the given id. Returns
// core.ErrNotFound when no record matches.
func (s *RecordService) Update(ctx context.Context, id string, f core.Fields) (core.Record, error) {
	r, err := s.update(ctx, id, f)
	if err != nil {
		return core.Record{}, err
	}
	s.publish(ctx, amqp.EventRecordUpdated, r)
	return r, nil
}

func (s *RecordService) update(ctx context.Context, id string, f core.Fields) (core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Load(ctx)
	if err != nil {
		return core.Record{}, fmt.Errorf("load records: %w", err)
	}

	r, i, ok := c.Find(id)
	if !ok {
		return core.Record{}, fmt.Errorf("update %q: %w", id, core.ErrNotFound)
	}
	if err := r.Merge(f); err != nil {
		return core.Record{}, err
	}
	c[i] = r

	if err := s.store.Save(ctx, c); err != nil {
		return core.Record{}, fmt.Errorf("save records: %w", err)
	}

	slog.InfoContext(ctx, "Record updated", "id", id, "fields", len(f))
	s.observe(amqp.EventRecordUpdated)
	return r, nil
}

// Delete drops every record with the given id and persists the result,
// whether or not anything matched.
func (s *RecordService) Delete(ctx context.Context, id string) (int, error) {
	removed, err := s.delete(ctx, id)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.publish(ctx, amqp.EventRecordDeleted, core.Record{ID: id})
	}
	return removed, nil
}

func (s *RecordService) delete(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load records: %w", err)
	}

	c, removed := c.Remove(id)
	if err := s.store.Save(ctx, c); err != nil {
		return 0, fmt.Errorf("save records: %w", err)
	}

	slog.InfoContext(ctx, "Record delete applied", "id", id, "removed", removed)
	if removed > 0 {
		s.observe(amqp.EventRecordDeleted)
	}
	return removed, nil
}

// uniqueID draws ids until one is not already in c.
func (s *RecordService) uniqueID(c core.Collection) string {
	for {
		id := s.newID()
		if id == "" {
			continue
		}
		if _, _, taken := c.Find(id); !taken {
			return id
		}
	}
}

func (s *RecordService) observe(t amqp.EventType) {
	if s.observer != nil {
		s.observer.ObserveMutation(string(t))
	}
}

// publish runs outside the store lock so a slow broker never holds up
// other requests. The change is already stored; a broker problem must not
// fail the request.
func (s *RecordService) publish(ctx context.Context, t amqp.EventType, r core.Record) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRecordEvent(ctx, amqp.NewRecordEvent(t, r)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish record event",
			"type", t, "id", r.ID, "error", err)
	}
}
