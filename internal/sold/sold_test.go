package sold

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/vehicle-storefront/internal/storage"
)

type blockingRemote struct {
	release chan struct{}
	err     error

	mu    sync.Mutex
	calls [][]int
}

func (b *blockingRemote) MarkSold(ctx context.Context, ids []int) error {
	b.mu.Lock()
	b.calls = append(b.calls, ids)
	b.mu.Unlock()
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.err
}

func TestIsSoldBeforeRemoteResolves(t *testing.T) {
	remote := &blockingRemote{release: make(chan struct{})}
	tr := NewTracker(context.Background(), storage.NewMemoryStorage(), remote, time.Second, nil)

	require.NoError(t, tr.MarkAsSold(context.Background(), []int{2, 3}))
	assert.True(t, tr.IsSold(2))
	assert.True(t, tr.IsSold(3))
	assert.False(t, tr.IsSold(4))

	close(remote.release)
	tr.Wait()
	assert.Equal(t, [][]int{{2, 3}}, remote.calls)
}

func TestRemoteFailureKeepsLocalState(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStorage()
	tr := NewTracker(ctx, st, &blockingRemote{err: errors.New("backend down")}, time.Second, nil)

	require.NoError(t, tr.MarkAsSold(ctx, []int{5}))
	tr.Wait()

	assert.True(t, tr.IsSold(5))
	b, err := st.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "[5]", string(b))
}

func TestRemoteTimeoutIsBounded(t *testing.T) {
	remote := &blockingRemote{release: make(chan struct{})}
	tr := NewTracker(context.Background(), storage.NewMemoryStorage(), remote, 20*time.Millisecond, nil)

	require.NoError(t, tr.MarkAsSold(context.Background(), []int{1}))
	done := make(chan struct{})
	go func() { tr.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("remote sync did not honour its timeout")
	}
	assert.True(t, tr.IsSold(1))
}

func TestSetOnlyGrows(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStorage()
	tr := NewTracker(ctx, st, nil, 0, nil)

	require.NoError(t, tr.MarkAsSold(ctx, []int{2, 3}))
	require.NoError(t, tr.MarkAsSold(ctx, []int{3, 8}))
	assert.Equal(t, []int{2, 3, 8}, tr.SoldIDs())

	// a new tracker over the same storage sees the persisted set
	again := NewTracker(ctx, st, nil, 0, nil)
	assert.Equal(t, []int{2, 3, 8}, again.SoldIDs())
}

func TestSubscribersSeeUnion(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(ctx, storage.NewMemoryStorage(), nil, 0, nil)

	var got [][]int
	tr.Subscribe(func(ids []int) { got = append(got, ids) })
	require.NoError(t, tr.MarkAsSold(ctx, []int{1}))
	require.NoError(t, tr.MarkAsSold(ctx, []int{1}))

	assert.Equal(t, [][]int{{}, {1}, {1}}, got)
}

func TestCloseStopsRemoteUpdates(t *testing.T) {
	ctx := context.Background()
	remote := &blockingRemote{}
	tr := NewTracker(ctx, storage.NewMemoryStorage(), remote, time.Second, nil)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, tr.MarkAsSold(ctx, []int{id}))
		}(i)
	}
	tr.Close()
	wg.Wait()
	tr.Wait()

	remote.mu.Lock()
	before := len(remote.calls)
	remote.mu.Unlock()

	require.NoError(t, tr.MarkAsSold(ctx, []int{42}))
	tr.Wait()
	assert.True(t, tr.IsSold(42))
	remote.mu.Lock()
	defer remote.mu.Unlock()
	assert.Equal(t, before, len(remote.calls))
	assert.Len(t, tr.SoldIDs(), 9)
}
