package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/blipee/aiqueue/src/models"
)

const keyPrefix = "semcache:"

// CacheRecord is a stored (embedding, response) tuple scoped to one
// organization and model family.
type CacheRecord struct {
	ID         string                 `json:"id"`
	Embedding  []float32              `json:"embedding"`
	Response   *models.ProviderResult `json:"response"`
	CreatedAt  time.Time              `json:"created_at"`
	HitCount   int                    `json:"hit_count"`
	LastAccess time.Time              `json:"last_access"`
}

// LookupResult is a cache hit with its similarity score.
type LookupResult struct {
	Record     *CacheRecord
	Similarity float64
}

// SemanticCache stores responses keyed by embedding similarity. Records live
// in Redis under a per-(org, model family) scope; each scope has its own
// last-access index driving LRU eviction and its own in-process lock so
// tenants do not contend with each other.
type SemanticCache struct {
	client    *redis.Client
	ttl       time.Duration
	capacity  int
	threshold float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Options struct {
	TTL                 time.Duration
	CapacityPerScope    int
	SimilarityThreshold float64
}

func NewSemanticCache(client *redis.Client, opts Options) *SemanticCache {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.CapacityPerScope <= 0 {
		opts.CapacityPerScope = 1000
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.92
	}
	return &SemanticCache{
		client:    client,
		ttl:       opts.TTL,
		capacity:  opts.CapacityPerScope,
		threshold: opts.SimilarityThreshold,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Threshold returns the configured similarity threshold.
func (c *SemanticCache) Threshold() float64 {
	return c.threshold
}

// Lookup scans the (org, model family) scope for the most similar record at or
// above the threshold. A hit bumps the record's hit count and last access.
func (c *SemanticCache) Lookup(ctx context.Context, orgID, family string, embedding []float32) (*LookupResult, error) {
	lock := c.scopeLock(orgID, family)
	lock.Lock()
	defer lock.Unlock()

	indexKey := c.indexKey(orgID, family)
	ids, err := c.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache index: %w", err)
	}

	var best *CacheRecord
	maxSimilarity := c.threshold
	for _, id := range ids {
		entry, err := c.load(ctx, orgID, family, id)
		if err != nil {
			continue
		}
		if entry == nil {
			// Expired entry still referenced by the index.
			c.client.ZRem(ctx, indexKey, id)
			continue
		}

		similarity := cosineSimilarity(embedding, entry.Embedding)
		if similarity >= maxSimilarity {
			maxSimilarity = similarity
			best = entry
		}
	}

	if best == nil {
		return nil, nil
	}

	best.HitCount++
	best.LastAccess = time.Now().UTC()
	if err := c.save(ctx, orgID, family, best); err != nil {
		return nil, fmt.Errorf("failed to touch cache record: %w", err)
	}

	return &LookupResult{Record: best, Similarity: maxSimilarity}, nil
}

// Store inserts a new record and evicts least-recently-used records (oldest
// creation as tiebreak) once the scope exceeds its capacity.
func (c *SemanticCache) Store(ctx context.Context, orgID, family string, embedding []float32, response *models.ProviderResult) error {
	lock := c.scopeLock(orgID, family)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	record := &CacheRecord{
		ID:         uuid.NewString(),
		Embedding:  embedding,
		Response:   response,
		CreatedAt:  now,
		LastAccess: now,
	}

	if err := c.save(ctx, orgID, family, record); err != nil {
		return err
	}

	return c.evictOverCapacity(ctx, orgID, family)
}

func (c *SemanticCache) evictOverCapacity(ctx context.Context, orgID, family string) error {
	indexKey := c.indexKey(orgID, family)
	size, err := c.client.ZCard(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to size cache scope: %w", err)
	}

	for size > int64(c.capacity) {
		victims, err := c.client.ZRangeWithScores(ctx, indexKey, 0, 0).Result()
		if err != nil || len(victims) == 0 {
			return err
		}
		lowest := victims[0].Score

		// All members at the lowest access score compete; the oldest record
		// by creation time goes first.
		tied, err := c.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
			Min: fmt.Sprintf("%f", lowest),
			Max: fmt.Sprintf("%f", lowest),
		}).Result()
		if err != nil {
			return err
		}

		victim := tied[0]
		oldest := time.Time{}
		for _, id := range tied {
			entry, err := c.load(ctx, orgID, family, id)
			if err != nil || entry == nil {
				victim = id
				break
			}
			if oldest.IsZero() || entry.CreatedAt.Before(oldest) {
				oldest = entry.CreatedAt
				victim = id
			}
		}

		pipe := c.client.Pipeline()
		pipe.Del(ctx, c.entryKey(orgID, family, victim))
		pipe.ZRem(ctx, indexKey, victim)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to evict cache record: %w", err)
		}
		size--
	}

	return nil
}

func (c *SemanticCache) load(ctx context.Context, orgID, family, id string) (*CacheRecord, error) {
	val, err := c.client.Get(ctx, c.entryKey(orgID, family, id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry CacheRecord
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache record: %w", err)
	}
	return &entry, nil
}

func (c *SemanticCache) save(ctx context.Context, orgID, family string, record *CacheRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal cache record: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, c.entryKey(orgID, family, record.ID), data, c.ttl)
	pipe.ZAdd(ctx, c.indexKey(orgID, family), redis.Z{
		Score:  float64(record.LastAccess.UnixMilli()),
		Member: record.ID,
	})
	pipe.Expire(ctx, c.indexKey(orgID, family), c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *SemanticCache) entryKey(orgID, family, id string) string {
	return keyPrefix + orgID + ":" + family + ":" + id
}

func (c *SemanticCache) indexKey(orgID, family string) string {
	return keyPrefix + orgID + ":" + family + ":index"
}

// scopeLock returns the in-process lock for one (org, family) scope. Locking
// per scope keeps cross-tenant traffic from serializing.
func (c *SemanticCache) scopeLock(orgID, family string) *sync.Mutex {
	key := orgID + "|" + family
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[key] = lock
	}
	return lock
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
