// Package liststore holds a deduplicated, order-preserving list mirrored to a
// durable key and broadcast to subscribers after every change.
package liststore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/vehicle-storefront/internal/observability"
	"github.com/example/vehicle-storefront/internal/storage"
)

var (
	ErrAlreadyPresent = errors.New("liststore: item already present")
	ErrLimitReached   = errors.New("liststore: limit reached")
)

// Listener receives its own copy of the list after every change.
type Listener[T any] func(items []T)

type Config[T any] struct {
	Key    string       // durable key the list is mirrored to
	ID     func(T) int  // identity; two items with the same id are duplicates
	Clone  func(T) T    // optional deep copy, defaults to plain assignment
	Max    int          // 0 means unbounded
	Logger *slog.Logger
}

// Store is safe for concurrent use. Mutations are serialized and listeners are
// called synchronously, in mutation order, before the mutating call returns.
// Listeners run without the store lock held, so they may read the store; a
// listener must not mutate the store it observes from inside the callback.
type Store[T any] struct {
	key     string
	storage storage.Storage
	id      func(T) int
	clone   func(T) T
	max     int
	logger  *slog.Logger

	mu    sync.Mutex
	items []T
	// next ticket, handed out under mu in mutation order
	ticket uint64

	// emissions run one at a time in ticket order, outside mu
	emitMu   sync.Mutex
	emitTurn *sync.Cond
	serving  uint64

	subsMu  sync.Mutex
	subs    map[int]subscriber[T]
	nextSub int
}

type subscriber[T any] struct {
	l Listener[T]
	// only emissions with a later ticket reach the subscriber
	since uint64
}

// New builds a store and loads its snapshot. Unreadable or corrupt snapshots
// are discarded and the store starts empty; New never fails.
func New[T any](ctx context.Context, st storage.Storage, cfg Config[T]) *Store[T] {
	if cfg.ID == nil {
		panic("liststore: Config.ID is required")
	}
	s := &Store[T]{
		key:     cfg.Key,
		storage: st,
		id:      cfg.ID,
		clone:   cfg.Clone,
		max:     cfg.Max,
		logger:  cfg.Logger,
		subs:    make(map[int]subscriber[T]),
	}
	s.emitTurn = sync.NewCond(&s.emitMu)
	if s.clone == nil {
		s.clone = func(v T) T { return v }
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.load(ctx)
	return s
}

func (s *Store[T]) load(ctx context.Context) {
	b, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("store load failed, starting empty", "store", s.key, "error", err)
		return
	}
	var items []T
	if err := json.Unmarshal(b, &items); err != nil {
		s.logger.Warn("discarding corrupt snapshot", "store", s.key, "error", err)
		observability.StoreLoadDiscards.WithLabelValues(s.key).Inc()
		if err := s.storage.Delete(ctx, s.key); err != nil {
			s.logger.Warn("delete corrupt snapshot failed", "store", s.key, "error", err)
		}
		return
	}
	deduped := make([]T, 0, len(items))
	seen := make(map[int]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[s.id(it)]; dup {
			continue
		}
		seen[s.id(it)] = struct{}{}
		deduped = append(deduped, it)
	}
	if len(deduped) != len(items) {
		// keep the persisted copy equal to memory
		if err := s.persist(ctx, deduped); err != nil {
			s.logger.Warn("rewrite deduplicated snapshot failed", "store", s.key, "error", err)
		}
	}
	s.items = deduped
	observability.StoreSize.WithLabelValues(s.key).Set(float64(len(deduped)))
}

// Add appends item unless the store is full (ErrLimitReached, checked first)
// or already holds its id (ErrAlreadyPresent). Neither rejection changes state.
func (s *Store[T]) Add(ctx context.Context, item T) error {
	s.mu.Lock()
	if s.max > 0 && len(s.items) >= s.max {
		s.mu.Unlock()
		observability.StoreRejections.WithLabelValues(s.key, "limit").Inc()
		return ErrLimitReached
	}
	if s.indexOf(s.id(item)) >= 0 {
		s.mu.Unlock()
		observability.StoreRejections.WithLabelValues(s.key, "duplicate").Inc()
		return ErrAlreadyPresent
	}
	next := make([]T, len(s.items), len(s.items)+1)
	copy(next, s.items)
	next = append(next, s.clone(item))
	return s.commit(ctx, next, "add")
}

// Union appends every item whose id is not yet present, in order, and commits
// once. It persists and notifies even when nothing new was added.
func (s *Store[T]) Union(ctx context.Context, items []T) (int, error) {
	s.mu.Lock()
	next := make([]T, len(s.items), len(s.items)+len(items))
	copy(next, s.items)
	seen := make(map[int]struct{}, len(next)+len(items))
	for _, it := range next {
		seen[s.id(it)] = struct{}{}
	}
	added := 0
	for _, it := range items {
		if _, ok := seen[s.id(it)]; ok {
			continue
		}
		seen[s.id(it)] = struct{}{}
		next = append(next, s.clone(it))
		added++
	}
	if s.max > 0 && len(next) > s.max {
		s.mu.Unlock()
		observability.StoreRejections.WithLabelValues(s.key, "limit").Inc()
		return 0, ErrLimitReached
	}
	if err := s.commit(ctx, next, "union"); err != nil {
		return 0, err
	}
	return added, nil
}

// Remove filters id out. An absent id still persists and notifies.
func (s *Store[T]) Remove(ctx context.Context, id int) error {
	s.mu.Lock()
	next := make([]T, 0, len(s.items))
	for _, it := range s.items {
		if s.id(it) != id {
			next = append(next, it)
		}
	}
	return s.commit(ctx, next, "remove")
}

func (s *Store[T]) Clear(ctx context.Context) error {
	s.mu.Lock()
	return s.commit(ctx, []T{}, "clear")
}

func (s *Store[T]) Contains(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOf(id) >= 0
}

// Snapshot returns a copy; changing it does not affect the store.
func (s *Store[T]) Snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOf(s.items)
}

func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Max is the configured bound, 0 when unbounded.
func (s *Store[T]) Max() int { return s.max }

func (s *Store[T]) CanAdd() bool {
	if s.max == 0 {
		return true
	}
	return s.Len() < s.max
}

func (s *Store[T]) Key() string { return s.key }

// Subscribe registers l and immediately delivers the current list to it.
// The returned func unregisters l; calling it more than once is harmless.
func (s *Store[T]) Subscribe(l Listener[T]) (unsubscribe func()) {
	s.mu.Lock()
	t := s.nextTicket()
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = subscriber[T]{l: l, since: t}
	s.subsMu.Unlock()
	snap := s.copyOf(s.items)
	s.mu.Unlock()

	s.inTurn(t, func() { l(snap) })

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// commit must be called with mu held and always releases it. The durable
// write happens first; on failure memory is left untouched.
func (s *Store[T]) commit(ctx context.Context, next []T, op string) error {
	if err := s.persist(ctx, next); err != nil {
		s.mu.Unlock()
		s.logger.Error("store persist failed", "store", s.key, "op", op, "error", err)
		return err
	}
	s.items = next
	snap := s.copyOf(next)
	t := s.nextTicket()
	s.mu.Unlock()

	observability.StoreMutations.WithLabelValues(s.key, op).Inc()
	observability.StoreSize.WithLabelValues(s.key).Set(float64(len(snap)))
	s.logger.Debug("store changed", "store", s.key, "op", op, "size", len(snap))
	s.inTurn(t, func() { s.publish(t, snap) })
	return nil
}

// nextTicket must be called with mu held.
func (s *Store[T]) nextTicket() uint64 {
	t := s.ticket
	s.ticket++
	return t
}

// inTurn waits until every earlier ticket has been emitted, runs fn, then
// lets the next ticket go.
func (s *Store[T]) inTurn(t uint64, fn func()) {
	s.emitMu.Lock()
	for s.serving != t {
		s.emitTurn.Wait()
	}
	s.emitMu.Unlock()

	defer func() {
		s.emitMu.Lock()
		s.serving++
		s.emitTurn.Broadcast()
		s.emitMu.Unlock()
	}()
	fn()
}

func (s *Store[T]) persist(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", s.key, err)
	}
	if err := s.storage.Set(ctx, s.key, b); err != nil {
		return fmt.Errorf("persist %s: %w", s.key, err)
	}
	return nil
}

func (s *Store[T]) publish(t uint64, snap []T) {
	s.subsMu.Lock()
	ls := make([]Listener[T], 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if sub, ok := s.subs[i]; ok && sub.since < t {
			ls = append(ls, sub.l)
		}
	}
	s.subsMu.Unlock()
	for i, l := range ls {
		if i == len(ls)-1 {
			l(snap)
			break
		}
		l(s.copyOf(snap))
	}
}

func (s *Store[T]) indexOf(id int) int {
	for i, it := range s.items {
		if s.id(it) == id {
			return i
		}
	}
	return -1
}

func (s *Store[T]) copyOf(items []T) []T {
	out := make([]T, len(items))
	for i, it := range items {
		out[i] = s.clone(it)
	}
	return out
}
