package sold

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/vehicle-storefront/internal/liststore"
	"github.com/example/vehicle-storefront/internal/observability"
	"github.com/example/vehicle-storefront/internal/storage"
)

const StorageKey = "sold_vehicles"

// Remote is the advisory backend copy of the sold state.
type Remote interface {
	MarkSold(ctx context.Context, vehicleIDs []int) error
}

// Tracker owns the local sold-id set. The local set is authoritative for
// whether a vehicle can be purchased; the remote write is best effort and a
// failure never rolls the local set back.
type Tracker struct {
	set     *liststore.Store[int]
	remote  Remote
	timeout time.Duration
	logger  *slog.Logger

	// mu orders wg.Add against Wait and guards closed
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewTracker(ctx context.Context, st storage.Storage, remote Remote, timeout time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tracker{
		set:     liststore.New(ctx, st, liststore.Config[int]{Key: StorageKey, ID: func(id int) int { return id }, Logger: logger}),
		remote:  remote,
		timeout: timeout,
		logger:  logger,
	}
}

// MarkAsSold unions ids into the local set, then starts the remote update in
// the background. Only a local persist failure is returned.
func (t *Tracker) MarkAsSold(ctx context.Context, ids []int) error {
	if _, err := t.set.Union(ctx, ids); err != nil {
		return err
	}
	if t.remote == nil || len(ids) == 0 {
		return nil
	}
	pending := append([]int(nil), ids...)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.logger.Warn("tracker closed, skipping remote sold update", "vehicle_ids", pending)
		return nil
	}
	t.wg.Add(1)
	t.mu.Unlock()
	go func() {
		defer t.wg.Done()
		rctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.remote.MarkSold(rctx, pending); err != nil {
			observability.SoldSyncFailures.Inc()
			t.logger.Error("remote sold update failed, keeping local state", "vehicle_ids", pending, "error", err)
			return
		}
		t.logger.Info("vehicles marked as sold remotely", "vehicle_ids", pending)
	}()
	return nil
}

func (t *Tracker) IsSold(id int) bool { return t.set.Contains(id) }

func (t *Tracker) SoldIDs() []int { return t.set.Snapshot() }

func (t *Tracker) Subscribe(l func(ids []int)) (unsubscribe func()) {
	return t.set.Subscribe(l)
}

// Wait blocks until every remote update started so far has finished.
// MarkAsSold calls made meanwhile wait for it to return.
func (t *Tracker) Wait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wg.Wait()
}

// Close stops starting remote updates and waits for the pending ones. Later
// marks still update the local set.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.Wait()
}
