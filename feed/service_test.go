package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"killbase"
)

type memorySource struct {
	mu       sync.Mutex
	packages []*killbase.FeedPackage
}

func (s *memorySource) add(killID int32, totalValue float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages = append(s.packages, &killbase.FeedPackage{
		KillID:   killID,
		Killmail: killbase.Killmail{KillmailID: killID},
		Meta:     killbase.KillmailMeta{TotalValue: totalValue},
	})
}

func (s *memorySource) NewestPackage(ctx context.Context) (*killbase.FeedPackage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.packages) == 0 {
		return nil, false, nil
	}
	return s.packages[len(s.packages)-1], true, nil
}

func (s *memorySource) NextPackageAfter(ctx context.Context, killmailID int32) (*killbase.FeedPackage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pkg := range s.packages {
		if pkg.KillID > killmailID {
			return pkg, true, nil
		}
	}
	return nil, false, nil
}

type memoryCursors struct {
	mu      sync.Mutex
	cursors map[string]int32
	touches map[string]int
}

func newMemoryCursors() *memoryCursors {
	return &memoryCursors{cursors: map[string]int32{}, touches: map[string]int{}}
}

func (c *memoryCursors) Cursor(ctx context.Context, queueID string) (int32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cursor, ok := c.cursors[queueID]
	return cursor, ok, nil
}

func (c *memoryCursors) SetCursor(ctx context.Context, queueID string, killmailID int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[queueID] = killmailID
	return nil
}

func (c *memoryCursors) Touch(ctx context.Context, queueID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touches[queueID]++
	return nil
}

func newTestService(source *memorySource, cursors *memoryCursors) *Service {
	return NewService(source, cursors, 5*time.Millisecond, zerolog.Nop())
}

func TestFirstPollReturnsNewest(t *testing.T) {
	source := &memorySource{}
	source.add(10, 5000)
	source.add(11, 7000)

	service := newTestService(source, newMemoryCursors())

	pkg, err := service.Poll(context.Background(), "fresh-consumer", time.Second)
	require.NoError(t, err)
	require.NotNil(t, pkg)
	require.Equal(t, int32(11), pkg.KillID)
	require.Equal(t, 7000.0, pkg.Meta.TotalValue)
}

func TestPollTimeoutReturnsNothing(t *testing.T) {
	source := &memorySource{}
	source.add(10, 5000)

	cursors := newMemoryCursors()
	service := newTestService(source, cursors)

	pkg, err := service.Poll(context.Background(), "q", time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(10), pkg.KillID)

	started := time.Now()
	pkg, err = service.Poll(context.Background(), "q", 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, pkg)
	require.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)

	require.Equal(t, 2, cursors.touches["q"])
}

func TestPollWakesOnMidWaitInsert(t *testing.T) {
	source := &memorySource{}
	source.add(10, 5000)
	source.add(11, 7000)

	service := newTestService(source, newMemoryCursors())

	pkg, err := service.Poll(context.Background(), "q", time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(11), pkg.KillID)

	go func() {
		time.Sleep(30 * time.Millisecond)
		source.add(12, 100)
	}()

	started := time.Now()
	pkg, err = service.Poll(context.Background(), "q", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, pkg)
	require.Equal(t, int32(12), pkg.KillID)
	require.Less(t, time.Since(started), 5*time.Second)
}

func TestPollSequenceIsStrictlyIncreasing(t *testing.T) {
	source := &memorySource{}
	for id := int32(1); id <= 20; id++ {
		source.add(id, float64(id)*100)
	}

	service := newTestService(source, newMemoryCursors())

	// First poll lands at the tip; backfill more and drain them in order.
	delivered := []int32{}
	pkg, err := service.Poll(context.Background(), "q", time.Second)
	require.NoError(t, err)
	delivered = append(delivered, pkg.KillID)

	for id := int32(21); id <= 30; id++ {
		source.add(id, float64(id)*100)
	}

	for {
		pkg, err := service.Poll(context.Background(), "q", 30*time.Millisecond)
		require.NoError(t, err)
		if pkg == nil {
			break
		}
		delivered = append(delivered, pkg.KillID)
	}

	require.Equal(t, []int32{20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30}, delivered)
}

func TestPollConsumersAreIndependent(t *testing.T) {
	source := &memorySource{}
	source.add(10, 5000)

	service := newTestService(source, newMemoryCursors())

	pkg, err := service.Poll(context.Background(), "alpha", time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(10), pkg.KillID)

	source.add(11, 7000)

	// A consumer with its own key is unaffected by alpha's position.
	pkg, err = service.Poll(context.Background(), "beta", time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(11), pkg.KillID)

	pkg, err = service.Poll(context.Background(), "alpha", time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(11), pkg.KillID)
}

func TestPollRespectsContextCancellation(t *testing.T) {
	source := &memorySource{}
	source.add(10, 5000)
	service := newTestService(source, newMemoryCursors())

	_, err := service.Poll(context.Background(), "q", time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = service.Poll(ctx, "q", 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

// expiringCursors drops a cursor once a fixed number of ticks pass without a
// Touch refreshing it, mirroring a redis key with an inactivity TTL.
type expiringCursors struct {
	mu       sync.Mutex
	ttlTicks int
	now      int
	cursors  map[string]int32
	expires  map[string]int
}

func newExpiringCursors(ttlTicks int) *expiringCursors {
	return &expiringCursors{
		ttlTicks: ttlTicks,
		cursors:  map[string]int32{},
		expires:  map[string]int{},
	}
}

func (c *expiringCursors) tick(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += n
}

func (c *expiringCursors) Cursor(ctx context.Context, queueID string) (int32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cursor, ok := c.cursors[queueID]
	if !ok || c.now >= c.expires[queueID] {
		return 0, false, nil
	}
	return cursor, true, nil
}

func (c *expiringCursors) SetCursor(ctx context.Context, queueID string, killmailID int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[queueID] = killmailID
	c.expires[queueID] = c.now + c.ttlTicks
	return nil
}

func (c *expiringCursors) Touch(ctx context.Context, queueID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// An already-lapsed key is gone; refreshing it is a no-op, as with
	// EXPIRE on a missing redis key.
	if _, ok := c.cursors[queueID]; ok && c.now < c.expires[queueID] {
		c.expires[queueID] = c.now + c.ttlTicks
	}
	return nil
}

func TestActivePollingKeepsCursorAlive(t *testing.T) {
	source := &memorySource{}
	source.add(10, 5000)

	cursors := newExpiringCursors(3)
	service := NewService(source, cursors, 5*time.Millisecond, zerolog.Nop())

	pkg, err := service.Poll(context.Background(), "q", time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(10), pkg.KillID)

	// The feed stays quiet while the consumer keeps polling. Each poll
	// refreshes the inactivity window, so the position must outlive many
	// multiples of the TTL and the tip must never be delivered twice.
	for i := 0; i < 10; i++ {
		cursors.tick(2)
		pkg, err = service.Poll(context.Background(), "q", 20*time.Millisecond)
		require.NoError(t, err)
		require.Nil(t, pkg)
	}

	source.add(11, 7000)
	pkg, err = service.Poll(context.Background(), "q", time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(11), pkg.KillID)
}

func TestIdleConsumerStartsOverAtTip(t *testing.T) {
	source := &memorySource{}
	source.add(10, 5000)

	cursors := newExpiringCursors(3)
	service := NewService(source, cursors, 5*time.Millisecond, zerolog.Nop())

	pkg, err := service.Poll(context.Background(), "q", time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(10), pkg.KillID)

	// No polls for longer than the inactivity window: the position is
	// forgotten and the consumer rejoins at the newest killmail.
	cursors.tick(4)

	pkg, err = service.Poll(context.Background(), "q", time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(10), pkg.KillID)
}

func TestClampWait(t *testing.T) {
	require.Equal(t, DefaultWait, ClampWait(0))
	require.Equal(t, MinWait, ClampWait(1))
	require.Equal(t, 5*time.Second, ClampWait(5))
	require.Equal(t, MaxWait, ClampWait(60))
	require.Equal(t, DefaultWait, ClampWait(-3))
}
