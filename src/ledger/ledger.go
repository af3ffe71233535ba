package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const eventStream = "ledger:events"

// Event is one append-only spend record. Cache hits carry zero billable cost
// and the avoided spend in CostSavedUSD instead.
type Event struct {
	IdempotencyKey string    `json:"idempotency_key"`
	OrgID          string    `json:"org_id"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	TokensIn       int       `json:"tokens_in"`
	TokensOut      int       `json:"tokens_out"`
	CostUSD        float64   `json:"cost_usd"`
	CostSavedUSD   float64   `json:"cost_saved_usd"`
	CacheHit       bool      `json:"cache_hit"`
	Errored        bool      `json:"errored"`
	LatencyMs      int64     `json:"latency_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

type bucketKey struct {
	org      string
	provider string
	model    string
	start    int64
}

// Counters are atomic so every worker can record concurrently without a
// global lock; only the latency sample takes a short per-bucket mutex.
type bucket struct {
	costMicro  atomic.Int64
	savedMicro atomic.Int64
	tokensIn   atomic.Int64
	tokensOut  atomic.Int64
	requests   atomic.Int64
	cacheHits  atomic.Int64
	errors     atomic.Int64

	latMu     sync.Mutex
	latencies []int64
}

const latencySampleCap = 512

func (b *bucket) addLatency(ms int64) {
	b.latMu.Lock()
	defer b.latMu.Unlock()
	if len(b.latencies) < latencySampleCap {
		b.latencies = append(b.latencies, ms)
	}
}

// Snapshot is an immutable view of one cost bucket.
type Snapshot struct {
	OrgID        string    `json:"org_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	CostUSD      float64   `json:"cost_usd"`
	CostSavedUSD float64   `json:"cost_saved_usd"`
	TokensIn     int64     `json:"tokens_in"`
	TokensOut    int64     `json:"tokens_out"`
	Requests     int64     `json:"requests"`
	CacheHits    int64     `json:"cache_hits"`
	Errors       int64     `json:"errors"`
	P50LatencyMs int64     `json:"p50_latency_ms"`
	P95LatencyMs int64     `json:"p95_latency_ms"`
}

// CostLedger aggregates spend into fixed time-window buckets and appends every
// event to a Redis stream for at-least-once durability. Buckets are frozen
// into immutable snapshots once their window closes.
type CostLedger struct {
	client *redis.Client
	width  time.Duration

	mu     sync.RWMutex
	open   map[bucketKey]*bucket
	closed []Snapshot

	now func() time.Time
}

func New(client *redis.Client, bucketWidth time.Duration) *CostLedger {
	if bucketWidth <= 0 {
		bucketWidth = time.Hour
	}
	return &CostLedger{
		client: client,
		width:  bucketWidth,
		open:   make(map[bucketKey]*bucket),
		now:    time.Now,
	}
}

// Record appends an event. Safe for concurrent use by all workers.
func (l *CostLedger) Record(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}
	if ev.IdempotencyKey == "" {
		ev.IdempotencyKey = uuid.NewString()
	}

	if err := l.append(ctx, ev); err != nil {
		return fmt.Errorf("failed to append ledger event: %w", err)
	}

	b := l.bucketFor(ev)
	b.costMicro.Add(toMicro(ev.CostUSD))
	b.savedMicro.Add(toMicro(ev.CostSavedUSD))
	b.tokensIn.Add(int64(ev.TokensIn))
	b.tokensOut.Add(int64(ev.TokensOut))
	b.requests.Add(1)
	if ev.CacheHit {
		b.cacheHits.Add(1)
	}
	if ev.Errored {
		b.errors.Add(1)
	}
	if ev.LatencyMs > 0 {
		b.addLatency(ev.LatencyMs)
	}

	return nil
}

func (l *CostLedger) append(ctx context.Context, ev Event) error {
	return l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStream,
		Values: map[string]interface{}{
			"idem":       ev.IdempotencyKey,
			"org":        ev.OrgID,
			"provider":   ev.Provider,
			"model":      ev.Model,
			"tokens_in":  ev.TokensIn,
			"tokens_out": ev.TokensOut,
			"cost_usd":   ev.CostUSD,
			"saved_usd":  ev.CostSavedUSD,
			"cache_hit":  ev.CacheHit,
			"errored":    ev.Errored,
			"latency_ms": ev.LatencyMs,
			"ts":         ev.Timestamp.Format(time.RFC3339Nano),
		},
	}).Err()
}

func (l *CostLedger) bucketFor(ev Event) *bucket {
	key := bucketKey{
		org:      ev.OrgID,
		provider: ev.Provider,
		model:    ev.Model,
		start:    ev.Timestamp.Truncate(l.width).Unix(),
	}

	l.mu.RLock()
	b, ok := l.open[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.open[key]; ok {
		return b
	}
	l.rolloverLocked()
	b = &bucket{}
	l.open[key] = b
	return b
}

// rolloverLocked freezes open buckets whose window has passed. Closed
// snapshots never change again; billing reads them without coordination.
func (l *CostLedger) rolloverLocked() {
	cutoff := l.now().UTC().Add(-l.width).Unix()
	for key, b := range l.open {
		if key.start <= cutoff {
			l.closed = append(l.closed, l.snapshot(key, b))
			delete(l.open, key)
		}
	}
}

func (l *CostLedger) snapshot(key bucketKey, b *bucket) Snapshot {
	b.latMu.Lock()
	lats := make([]int64, len(b.latencies))
	copy(lats, b.latencies)
	b.latMu.Unlock()
	sort.Slice(lats, func(i, j int) bool { return lats[i] < lats[j] })

	s := Snapshot{
		OrgID:        key.org,
		Provider:     key.provider,
		Model:        key.model,
		Start:        time.Unix(key.start, 0).UTC(),
		End:          time.Unix(key.start, 0).UTC().Add(l.width),
		CostUSD:      fromMicro(b.costMicro.Load()),
		CostSavedUSD: fromMicro(b.savedMicro.Load()),
		TokensIn:     b.tokensIn.Load(),
		TokensOut:    b.tokensOut.Load(),
		Requests:     b.requests.Load(),
		CacheHits:    b.cacheHits.Load(),
		Errors:       b.errors.Load(),
	}
	if len(lats) > 0 {
		s.P50LatencyMs = lats[len(lats)/2]
		s.P95LatencyMs = lats[(len(lats)*95)/100]
	}
	return s
}

// PeriodSpend sums billable cost for an organization across all buckets whose
// window starts at or after since.
func (l *CostLedger) PeriodSpend(orgID string, since time.Time) float64 {
	l.mu.Lock()
	l.rolloverLocked()
	var total int64
	for key, b := range l.open {
		if key.org == orgID && key.start >= since.Unix() {
			total += b.costMicro.Load()
		}
	}
	closed := l.closed
	l.mu.Unlock()

	spend := fromMicro(total)
	for _, s := range closed {
		if s.OrgID == orgID && !s.Start.Before(since) {
			spend += s.CostUSD
		}
	}
	return spend
}

// OrgSnapshots returns all bucket snapshots for an organization since the
// given time, including a point-in-time view of still-open buckets.
func (l *CostLedger) OrgSnapshots(orgID string, since time.Time) []Snapshot {
	l.mu.Lock()
	l.rolloverLocked()
	var out []Snapshot
	for key, b := range l.open {
		if key.org == orgID && key.start >= since.Unix() {
			out = append(out, l.snapshot(key, b))
		}
	}
	closed := l.closed
	l.mu.Unlock()

	for _, s := range closed {
		if s.OrgID == orgID && !s.Start.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func toMicro(usd float64) int64 {
	return int64(usd * 1_000_000)
}

func fromMicro(micro int64) float64 {
	return float64(micro) / 1_000_000
}
