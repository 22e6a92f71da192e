package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/EchoRingAI/voice-handoff-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []*domain.CloneCacheEntry
	nextID  int
}

func (s *fakeStore) GetActive(_ context.Context, callerID string, now time.Time) (*domain.CloneCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *domain.CloneCacheEntry
	for _, e := range s.entries {
		if e.CallerID != callerID || e.Expired(now) {
			continue
		}
		if newest == nil || e.CreatedAt.After(newest.CreatedAt) {
			newest = e
		}
	}
	return newest, nil
}

func (s *fakeStore) Insert(_ context.Context, entry *domain.CloneCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = fmt.Sprintf("entry-%d", s.nextID)
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeStore) Touch(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			e.ReuseCount++
			e.LastUsedAt = now
			return nil
		}
	}
	return errors.New("entry not found")
}

func (s *fakeStore) MarkExpired(_ context.Context, callerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.CallerID == callerID {
			e.ExpiresAt = now
		}
	}
	return nil
}

func (s *fakeStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*domain.CloneCacheEntry
	var removed int64
	for _, e := range s.entries {
		if e.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

func (s *fakeStore) get(id string) *domain.CloneCacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

type fakeProfiles struct {
	profiles map[string]*domain.CallerVoiceProfile
}

func (p *fakeProfiles) GetByCallerID(_ context.Context, callerID string) (*domain.CallerVoiceProfile, error) {
	return p.profiles[callerID], nil
}

type fakeCloner struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (c *fakeCloner) CreateClone(ctx context.Context, sampleRef, _ string) (string, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if c.err != nil {
		return "", c.err
	}
	return fmt.Sprintf("v_%s_%d", sampleRef, n), nil
}

func (c *fakeCloner) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestCache(t *testing.T) (*CloneCache, *fakeStore, *fakeCloner, *time.Time) {
	t.Helper()
	store := &fakeStore{}
	cloner := &fakeCloner{}
	profiles := &fakeProfiles{profiles: map[string]*domain.CallerVoiceProfile{
		"+14155550100": {CallerID: "+14155550100", SampleRef: "sample-a", DisplayName: "Caller A"},
	}}

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cc := NewCloneCache(store, profiles, cloner, nil, 24*time.Hour)
	cc.SetClock(func() time.Time { return now })
	return cc, store, cloner, &now
}

func TestGetOrCreateMissCreatesClone(t *testing.T) {
	cc, store, cloner, _ := newTestCache(t)

	handle, fromCache, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, "v_sample-a_1", handle)
	assert.Equal(t, 1, cloner.callCount())

	entry := store.get("entry-1")
	require.NotNil(t, entry)
	assert.Equal(t, 24*time.Hour, entry.ExpiresAt.Sub(entry.CreatedAt))

	stats := cc.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestGetOrCreateHitReusesAndCounts(t *testing.T) {
	cc, store, cloner, _ := newTestCache(t)

	first, _, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.NoError(t, err)

	second, fromCache, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cloner.callCount(), "provider must not be called on a hit")

	entry := store.get("entry-1")
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.ReuseCount)

	stats := cc.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestGetOrCreateExpiredEntryReclones(t *testing.T) {
	cc, _, cloner, now := newTestCache(t)

	_, _, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.NoError(t, err)

	// One second past the TTL the entry no longer serves.
	*now = now.Add(24*time.Hour + time.Second)

	handle, fromCache, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, "v_sample-a_2", handle)
	assert.Equal(t, 2, cloner.callCount())
}

func TestGetOrCreateAtTTLBoundary(t *testing.T) {
	cc, _, cloner, now := newTestCache(t)

	_, _, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.NoError(t, err)

	// Exactly at expires_at the entry is expired; only strictly-before serves.
	*now = now.Add(24 * time.Hour)

	_, fromCache, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, 2, cloner.callCount())
}

func TestGetOrCreateNoProfile(t *testing.T) {
	cc, _, cloner, _ := newTestCache(t)

	_, _, err := cc.GetOrCreate(context.Background(), "+19998887777")
	assert.ErrorIs(t, err, ErrNoVoiceProfile)
	assert.Equal(t, 0, cloner.callCount())
}

func TestGetOrCreateProviderFailureWritesNothing(t *testing.T) {
	cc, store, cloner, _ := newTestCache(t)
	cloner.err = errors.New("provider unavailable")

	_, _, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.Error(t, err)
	assert.Nil(t, store.get("entry-1"))
	assert.Equal(t, int64(1), cc.Stats().CreateFailures)

	// Recovery: the next call retries the provider.
	cloner.err = nil
	handle, fromCache, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.NotEmpty(t, handle)
}

func TestGetOrCreateConcurrentSingleClone(t *testing.T) {
	cc, _, cloner, _ := newTestCache(t)
	cloner.delay = 20 * time.Millisecond

	const workers = 8
	handles := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], _, errs[i] = cc.GetOrCreate(context.Background(), "+14155550100")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, cloner.callCount(), "concurrent calls for one caller must clone once")
	for _, h := range handles {
		assert.Equal(t, handles[0], h)
	}
}

func TestInvalidateForcesReclone(t *testing.T) {
	cc, _, cloner, _ := newTestCache(t)

	_, _, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.NoError(t, err)

	require.NoError(t, cc.Invalidate(context.Background(), "+14155550100"))

	_, fromCache, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, 2, cloner.callCount())
}

func TestSweepRemovesExpired(t *testing.T) {
	cc, store, _, now := newTestCache(t)

	_, _, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.NoError(t, err)

	*now = now.Add(25 * time.Hour)
	removed, err := cc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Empty(t, store.entries)
}

func TestEntryReturnsCopy(t *testing.T) {
	cc, store, _, _ := newTestCache(t)

	_, _, err := cc.GetOrCreate(context.Background(), "+14155550100")
	require.NoError(t, err)

	entry, err := cc.Entry(context.Background(), "+14155550100")
	require.NoError(t, err)
	require.NotNil(t, entry)

	entry.VoiceHandle = "mutated"
	assert.NotEqual(t, "mutated", store.get("entry-1").VoiceHandle)
}

func TestEntryNilWhenAbsent(t *testing.T) {
	cc, _, _, _ := newTestCache(t)

	entry, err := cc.Entry(context.Background(), "+14155550100")
	require.NoError(t, err)
	assert.Nil(t, entry)
}
