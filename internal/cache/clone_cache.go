package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/EchoRingAI/voice-handoff-service/internal/domain"
	"github.com/EchoRingAI/voice-handoff-service/pkg/logger"
	"github.com/EchoRingAI/voice-handoff-service/pkg/redis"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

// ErrNoVoiceProfile is returned when a caller has no provisioned voice sample.
var ErrNoVoiceProfile = errors.New("no voice profile for caller")

// hotTTL caps how long the Redis read-through layer may serve an entry
// without consulting Postgres. Kept short so an Invalidate on another
// instance converges quickly.
const hotTTL = 5 * time.Minute

// Store is the durable backing for clone cache entries.
type Store interface {
	GetActive(ctx context.Context, callerID string, now time.Time) (*domain.CloneCacheEntry, error)
	Insert(ctx context.Context, entry *domain.CloneCacheEntry) error
	Touch(ctx context.Context, id string, now time.Time) error
	MarkExpired(ctx context.Context, callerID string, now time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ProfileResolver looks up the caller's stored voice sample.
type ProfileResolver interface {
	GetByCallerID(ctx context.Context, callerID string) (*domain.CallerVoiceProfile, error)
}

// Cloner is the slice of the provider adapter the cache needs.
type Cloner interface {
	CreateClone(ctx context.Context, sampleRef, displayName string) (string, error)
}

// Stats is a snapshot of cache operability signals.
type Stats struct {
	Hits               int64   `json:"hits"`
	Misses             int64   `json:"misses"`
	CreateFailures     int64   `json:"create_failures"`
	HitRate            float64 `json:"hit_rate"`
	AvgCreateLatencyMS int64   `json:"avg_create_latency_ms"`
}

// CloneCache maps caller identities to cloned-voice handles with TTL and
// reuse counting. The durable store is the source of truth; Redis is only
// a short-lived read-through layer. A per-caller lock serializes concurrent
// GetOrCreate calls for the same caller so the external clone call happens
// at most once per caller within the TTL.
type CloneCache struct {
	store    Store
	profiles ProfileResolver
	cloner   Cloner
	redisSvc redis.RedisServiceInterface
	ttl      time.Duration
	locks    *KeyedMutex

	// clock is injectable for TTL tests.
	clock func() time.Time

	hits            atomic.Int64
	misses          atomic.Int64
	createFailures  atomic.Int64
	createLatencyMS atomic.Int64
	creates         atomic.Int64
}

// NewCloneCache creates a clone cache. redisSvc may be nil, in which case
// every lookup goes straight to the durable store.
func NewCloneCache(store Store, profiles ProfileResolver, cloner Cloner, redisSvc redis.RedisServiceInterface, ttl time.Duration) *CloneCache {
	return &CloneCache{
		store:    store,
		profiles: profiles,
		cloner:   cloner,
		redisSvc: redisSvc,
		ttl:      ttl,
		locks:    NewKeyedMutex(),
		clock:    time.Now,
	}
}

// SetClock overrides the cache clock. Intended for tests.
func (c *CloneCache) SetClock(clock func() time.Time) {
	c.clock = clock
}

// GetOrCreate returns the cloned-voice handle for the caller, creating the
// clone against the provider when no non-expired entry exists. fromCache is
// true on a cache hit. On provider failure no entry is written.
func (c *CloneCache) GetOrCreate(ctx context.Context, callerID string) (handle string, fromCache bool, err error) {
	unlock := c.locks.Lock(callerID)
	defer unlock()

	now := c.clock()

	entry, err := c.lookup(ctx, callerID, now)
	if err != nil {
		return "", false, err
	}
	if entry != nil {
		if err := c.store.Touch(ctx, entry.ID, now); err != nil {
			// Reuse bookkeeping is best effort; the handle is still valid.
			logger.Base().Warn("failed to touch clone cache entry", zap.String("caller_id", callerID), zap.Error(err))
		}
		c.hits.Add(1)
		return entry.VoiceHandle, true, nil
	}

	c.misses.Add(1)

	profile, err := c.profiles.GetByCallerID(ctx, callerID)
	if err != nil {
		return "", false, err
	}
	if profile == nil {
		return "", false, fmt.Errorf("%w: %s", ErrNoVoiceProfile, callerID)
	}

	start := c.clock()
	voiceHandle, err := c.cloner.CreateClone(ctx, profile.SampleRef, profile.DisplayName)
	if err != nil {
		c.createFailures.Add(1)
		return "", false, fmt.Errorf("failed to create voice clone: %w", err)
	}
	elapsed := c.clock().Sub(start)
	c.creates.Add(1)
	c.createLatencyMS.Add(elapsed.Milliseconds())

	newEntry := &domain.CloneCacheEntry{
		CallerID:    callerID,
		VoiceHandle: voiceHandle,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
		LastUsedAt:  now,
	}
	if err := c.store.Insert(ctx, newEntry); err != nil {
		return "", false, err
	}
	c.setHot(ctx, callerID, newEntry)

	logger.Base().Info("voice clone created",
		zap.String("caller_id", callerID),
		zap.String("voice_handle", voiceHandle),
		zap.Duration("create_latency", elapsed),
	)
	return voiceHandle, false, nil
}

// Entry returns a copy of the caller's non-expired cache entry, or nil.
// The copy keeps reuse bookkeeping private to the cache.
func (c *CloneCache) Entry(ctx context.Context, callerID string) (*domain.CloneCacheEntry, error) {
	entry, err := c.lookup(ctx, callerID, c.clock())
	if err != nil || entry == nil {
		return nil, err
	}
	var out domain.CloneCacheEntry
	if err := copier.CopyWithOption(&out, entry, copier.Option{DeepCopy: true}); err != nil {
		return entry, nil
	}
	return &out, nil
}

// Invalidate marks the caller's entries expired immediately and drops the
// hot-layer key.
func (c *CloneCache) Invalidate(ctx context.Context, callerID string) error {
	unlock := c.locks.Lock(callerID)
	defer unlock()

	now := c.clock()
	if err := c.store.MarkExpired(ctx, callerID, now); err != nil {
		return err
	}
	if c.redisSvc != nil {
		key := c.redisSvc.GenerateKey(redis.CLONE_CACHE_HOT, callerID)
		if err := c.redisSvc.DelValue(ctx, key); err != nil {
			logger.Base().Warn("failed to drop hot cache key", zap.String("caller_id", callerID), zap.Error(err))
		}
	}
	return nil
}

// Sweep deletes entries past their TTL. Safe to run concurrently with
// GetOrCreate because expiry is checked at read time regardless.
func (c *CloneCache) Sweep(ctx context.Context) (int64, error) {
	return c.store.DeleteExpired(ctx, c.clock())
}

// StartSweepRoutine runs Sweep on a fixed interval until ctx is cancelled.
// Call it with go.
func (c *CloneCache) StartSweepRoutine(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.Sweep(ctx)
			if err != nil {
				logger.Base().Error("clone cache sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Base().Info("swept expired clone entries", zap.Int64("removed", removed))
			}
		}
	}
}

// Stats returns a snapshot of hit/miss counters and creation latency.
func (c *CloneCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	var avgLatency int64
	if creates := c.creates.Load(); creates > 0 {
		avgLatency = c.createLatencyMS.Load() / creates
	}
	return Stats{
		Hits:               hits,
		Misses:             misses,
		CreateFailures:     c.createFailures.Load(),
		HitRate:            rate,
		AvgCreateLatencyMS: avgLatency,
	}
}

// lookup consults the hot layer first, then the durable store. Expiry is
// always re-checked against now so a stale hot entry is never served.
func (c *CloneCache) lookup(ctx context.Context, callerID string, now time.Time) (*domain.CloneCacheEntry, error) {
	if c.redisSvc != nil {
		key := c.redisSvc.GenerateKey(redis.CLONE_CACHE_HOT, callerID)
		if val, err := c.redisSvc.GetValue(ctx, key); err == nil && val != "" {
			var entry domain.CloneCacheEntry
			if err := json.Unmarshal([]byte(val), &entry); err == nil && !entry.Expired(now) {
				return &entry, nil
			}
		}
	}

	entry, err := c.store.GetActive(ctx, callerID, now)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		c.setHot(ctx, callerID, entry)
	}
	return entry, nil
}

func (c *CloneCache) setHot(ctx context.Context, callerID string, entry *domain.CloneCacheEntry) {
	if c.redisSvc == nil {
		return
	}
	remaining := time.Until(entry.ExpiresAt)
	if remaining <= 0 {
		return
	}
	if remaining > hotTTL {
		remaining = hotTTL
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	key := c.redisSvc.GenerateKey(redis.CLONE_CACHE_HOT, callerID)
	if err := c.redisSvc.SetValue(ctx, key, string(data), remaining); err != nil {
		logger.Base().Warn("failed to set hot cache key", zap.String("caller_id", callerID), zap.Error(err))
	}
}
