// Package upsert coordinates idempotent saves of configuration domains.
//
// Every domain goes through the same protocol: fetch what is stored, update
// it when it already exists or create it otherwise, then replace local state
// with what the server returned. Saves for the same (domain, insurer, product)
// share one in-flight request; different keys never block each other.
package upsert

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/logging"
	"github.com/opensource-finance/ratedesk/internal/metrics"
)

// Codec converts between a domain's typed items and their wire form.
type Codec[T any] interface {
	Decode(raw json.RawMessage) (T, error)
	Encode(item T) (json.RawMessage, error)
	// Rate is the item's numeric value, used by non-zero-rate existence checks.
	Rate(item T) float64
}

// Operation is the persistence call a save ended up making.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
)

// Result is the authoritative outcome of a save.
type Result[T any] struct {
	Operation Operation
	Items     []T
}

// DomainState is the local view of one key.
type DomainState[T any] struct {
	Items   []T
	Loaded  bool
	Loading bool
	Saving  bool
	// Dirty is set by Stage and cleared once the server's result lands.
	Dirty bool
	Err   error
}

type entry[T any] struct {
	state DomainState[T]
	epoch uint64
}

// Option configures a Coordinator.
type Option func(*settings)

type settings struct {
	bus     domain.EventBus
	metrics *metrics.Metrics
}

// WithBus publishes config.saved and config.failed events.
func WithBus(b domain.EventBus) Option {
	return func(s *settings) { s.bus = b }
}

// WithMetrics counts saves.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// Coordinator runs the save protocol for one domain.
type Coordinator[T any] struct {
	desc    domain.Descriptor
	backend domain.ConfigBackend
	codec   Codec[T]
	bus     domain.EventBus
	metrics *metrics.Metrics
	log     *zap.SugaredLogger

	mu      sync.Mutex
	entries map[domain.ConfigKey]*entry[T]
	epochs  map[domain.ConfigKey]uint64
	flights singleflight.Group
}

// New creates a coordinator for the described domain.
func New[T any](desc domain.Descriptor, backend domain.ConfigBackend, codec Codec[T], opts ...Option) *Coordinator[T] {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return &Coordinator[T]{
		desc:    desc,
		backend: backend,
		codec:   codec,
		bus:     s.bus,
		metrics: s.metrics,
		log:     logging.Named("upsert").With("domain", desc.Key),
		entries: make(map[domain.ConfigKey]*entry[T]),
		epochs:  make(map[domain.ConfigKey]uint64),
	}
}

// Descriptor returns the domain this coordinator serves.
func (c *Coordinator[T]) Descriptor() domain.Descriptor {
	return c.desc
}

// Save persists items under key and returns the server's result.
//
// A Save issued while another Save for the same key is in flight does not
// reach the backend; it waits for and returns the first call's result.
func (c *Coordinator[T]) Save(ctx context.Context, key domain.ConfigKey, items []T) (*Result[T], error) {
	if err := c.checkKey(key); err != nil {
		return nil, err
	}

	v, err, _ := c.flights.Do(key.String(), func() (any, error) {
		epoch := c.begin(key, func(st *DomainState[T]) {
			st.Saving = true
			st.Items = cloneItems(items)
			st.Dirty = true
		})

		res, err := c.persist(ctx, key, items)

		c.apply(key, epoch, func(st *DomainState[T]) {
			st.Saving = false
			st.Err = err
			if err == nil {
				st.Items = res.Items
				st.Loaded = true
				st.Dirty = false
			}
		})
		c.report(ctx, key, res, err)
		return res, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result[T]), nil
}

// Load fetches the stored items for key into state. A missing configuration
// loads as an empty list.
func (c *Coordinator[T]) Load(ctx context.Context, key domain.ConfigKey) ([]T, error) {
	if err := c.checkKey(key); err != nil {
		return nil, err
	}

	epoch := c.begin(key, func(st *DomainState[T]) { st.Loading = true })

	items, err := c.fetch(ctx, key)
	if domain.IsKind(err, domain.KindNotFound) {
		items, err = nil, nil
	}

	c.apply(key, epoch, func(st *DomainState[T]) {
		st.Loading = false
		st.Err = err
		if err == nil {
			st.Items = items
			st.Loaded = true
			st.Dirty = false
		}
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Stage applies an optimistic local edit. The next Save or Load replaces it.
func (c *Coordinator[T]) Stage(key domain.ConfigKey, items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(key)
	e.state.Items = cloneItems(items)
	e.state.Dirty = true
}

// State returns a snapshot of the local view of key.
func (c *Coordinator[T]) State(key domain.ConfigKey) DomainState[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return DomainState[T]{}
	}
	st := e.state
	st.Items = cloneItems(e.state.Items)
	return st
}

// Leave drops the local view of key. Responses to requests issued before
// Leave are discarded instead of being applied.
func (c *Coordinator[T]) Leave(key domain.ConfigKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epochs[key]++
	delete(c.entries, key)
}

func (c *Coordinator[T]) checkKey(key domain.ConfigKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if key.Domain != c.desc.Key {
		return domain.NewError(domain.KindValidation,
			fmt.Sprintf("coordinator for %s cannot handle %s", c.desc.Key, key.Domain), nil)
	}
	return nil
}

// entry must be called with mu held.
func (c *Coordinator[T]) entry(key domain.ConfigKey) *entry[T] {
	e, ok := c.entries[key]
	if !ok {
		e = &entry[T]{epoch: c.epochs[key]}
		c.entries[key] = e
	}
	return e
}

func (c *Coordinator[T]) begin(key domain.ConfigKey, mutate func(*DomainState[T])) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(key)
	mutate(&e.state)
	return e.epoch
}

// apply mutates state only if key has not been left since epoch was taken.
func (c *Coordinator[T]) apply(key domain.ConfigKey, epoch uint64, mutate func(*DomainState[T])) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epochs[key] != epoch {
		c.log.Debugw("discarding stale response", "key", key.String())
		return false
	}
	mutate(&c.entry(key).state)
	return true
}

func (c *Coordinator[T]) persist(ctx context.Context, key domain.ConfigKey, items []T) (*Result[T], error) {
	payload, err := c.encodeAll(items)
	if err != nil {
		return nil, err
	}

	op := OpCreate
	if c.desc.Merge {
		exists, err := c.exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if exists {
			op = OpUpdate
		}
	}

	var stored []json.RawMessage
	if op == OpUpdate {
		stored, err = c.backend.Update(ctx, key, payload)
	} else {
		stored, err = c.backend.Create(ctx, key, payload)
	}
	if err != nil {
		return &Result[T]{Operation: op}, fmt.Errorf("%s %s: %w", op, key, err)
	}

	decoded, err := c.decodeAll(stored)
	if err != nil {
		return &Result[T]{Operation: op}, err
	}
	return &Result[T]{Operation: op, Items: decoded}, nil
}

// exists decides create vs update. Only auth failures abort; any other fetch
// failure is treated as "nothing stored yet".
func (c *Coordinator[T]) exists(ctx context.Context, key domain.ConfigKey) (bool, error) {
	raw, err := c.backend.Fetch(ctx, key)
	if err != nil {
		if domain.IsAuth(err) {
			return false, err
		}
		if !domain.IsKind(err, domain.KindNotFound) {
			c.log.Warnw("fetch before save failed, creating", "key", key.String(), "error", err)
		}
		return false, nil
	}
	if len(raw) == 0 {
		return false, nil
	}
	if c.desc.Existence != domain.ExistsNonZeroRate {
		return true, nil
	}
	for _, r := range raw {
		item, err := c.codec.Decode(r)
		if err != nil {
			continue
		}
		if c.codec.Rate(item) != 0 {
			return true, nil
		}
	}
	return false, nil
}

func (c *Coordinator[T]) fetch(ctx context.Context, key domain.ConfigKey) ([]T, error) {
	raw, err := c.backend.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(raw)
}

func (c *Coordinator[T]) encodeAll(items []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for i, item := range items {
		raw, err := c.codec.Encode(item)
		if err != nil {
			return nil, fmt.Errorf("encode %s item %d: %w", c.desc.Key, i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// decodeAll validates a server response before it is trusted.
func (c *Coordinator[T]) decodeAll(raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		item, err := c.codec.Decode(r)
		if err != nil {
			return nil, domain.NewError(domain.KindMalformed,
				fmt.Sprintf("%s response item %d", c.desc.Key, i), err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Coordinator[T]) report(ctx context.Context, key domain.ConfigKey, res *Result[T], err error) {
	op := ""
	if res != nil {
		op = string(res.Operation)
	}
	c.metrics.ObserveSave(string(key.Domain), op, err)

	event := domain.ConfigEvent{
		Domain:    key.Domain,
		InsurerID: key.InsurerID,
		ProductID: key.ProductID,
		Operation: op,
	}
	topic := domain.TopicConfigSaved
	if err != nil {
		topic = domain.TopicConfigFailed
		event.Error = err.Error()
		c.log.Warnw("configuration save failed", "key", key.String(), "operation", op, "error", err)
	} else {
		event.Count = len(res.Items)
		items, encErr := c.encodeAll(res.Items)
		if encErr != nil {
			c.log.Errorw("failed to encode saved items for event", "key", key.String(), "error", encErr)
		}
		event.Items = items
		c.log.Infow("configuration saved", "key", key.String(), "operation", op, "items", event.Count)
	}

	if c.bus == nil {
		return
	}
	payload, mErr := json.Marshal(event)
	if mErr != nil {
		c.log.Errorw("failed to marshal config event", "error", mErr)
		return
	}
	if pErr := c.bus.Publish(ctx, key.InsurerID, topic, payload); pErr != nil {
		c.log.Warnw("failed to publish config event", "topic", topic, "error", pErr)
	}
}

func cloneItems[T any](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
