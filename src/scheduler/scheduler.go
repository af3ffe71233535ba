package scheduler

/*
Priority scheduler and worker pool.

Four strict priority lanes (critical > high > normal > low), FIFO within a
lane. A fixed pool of worker goroutines pulls the highest nonempty lane; after
StarvationLimit consecutive dequeues from a higher lane while a lower lane had
work waiting, one dequeue is forced from the next-lower nonempty lane so low
priority requests always make bounded progress ("weighted strict priority").

Workers block only on the outbound provider attempt (bounded by the request's
per-attempt timeout) and on backoff sleeps between retries. Retries re-select
a provider on every attempt through the Dispatcher; an entry that exhausts its
retries becomes failed with the last provider error attached, never silently
dropped.
*/

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/blipee/aiqueue/src/models"
)

const lanes = 4

// Dispatcher performs one provider attempt for a request: provider selection
// (skipping excluded names), breaker-guarded execution and outcome recording.
// It runs on the worker goroutine that owns the entry and returns the name of
// the provider it attempted, empty when selection itself failed.
type Dispatcher interface {
	ExecuteAttempt(ctx context.Context, req *models.Request, exclude []string) (*models.ProviderResult, string, error)
}

type Config struct {
	Workers         int
	StarvationLimit int
	RetryBase       time.Duration
	RetryMax        time.Duration
	RetryFactor     float64
	RetryJitterPct  float64
	Retention       time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.StarvationLimit <= 0 {
		c.StarvationLimit = 20
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 8 * time.Second
	}
	if c.RetryFactor <= 0 {
		c.RetryFactor = 2
	}
	if c.RetryJitterPct <= 0 {
		c.RetryJitterPct = 0.2
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
}

// Scheduler owns every QueueEntry from enqueue to retention expiry.
type Scheduler struct {
	cfg        Config
	dispatcher Dispatcher

	mu       sync.Mutex
	cond     *sync.Cond
	queues   [lanes][]*models.QueueEntry
	handles  map[string]*models.QueueEntry
	starved  int
	stopping bool

	wg   sync.WaitGroup
	stop chan struct{}
}

func New(cfg Config, dispatcher Dispatcher) *Scheduler {
	cfg.applyDefaults()
	s := &Scheduler{
		cfg:        cfg,
		dispatcher: dispatcher,
		handles:    make(map[string]*models.QueueEntry),
		stop:       make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the worker pool and the retention janitor.
func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.janitor()
}

// Stop drains the pool; in-flight attempts run to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	close(s.stop)
	s.cond.Broadcast()
	s.wg.Wait()
}

// Enqueue admits a request into its priority lane and returns its handle.
func (s *Scheduler) Enqueue(req *models.Request) (string, error) {
	entry := &models.QueueEntry{
		Request:    req,
		Status:     models.StatusPending,
		EnqueuedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return "", errors.New("scheduler is shutting down")
	}
	if _, exists := s.handles[req.ID]; exists {
		return "", &models.ValidationError{Field: "id", Reason: "already enqueued"}
	}

	lane := req.Priority.Lane()
	s.queues[lane] = append(s.queues[lane], entry)
	s.handles[req.ID] = entry
	s.cond.Signal()
	return req.ID, nil
}

// Status returns a snapshot of the entry; the caller never sees live state.
func (s *Scheduler) Status(handle string) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.handles[handle]
	if !ok {
		return nil, models.ErrNotFound
	}
	snapshot := *entry
	snapshot.AttemptedProviders = append([]string(nil), entry.AttemptedProviders...)
	return &snapshot, nil
}

// Cancel transitions a pending entry to cancelled; running and terminal
// entries are left alone (idempotent no-op). Cancelled entries are skipped at
// dequeue, before dispatch.
func (s *Scheduler) Cancel(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.handles[handle]
	if !ok {
		return models.ErrNotFound
	}
	if entry.Status == models.StatusPending {
		entry.Status = models.StatusCancelled
		entry.FinishedAt = time.Now().UTC()
	}
	return nil
}

// QueueDepth returns the number of pending entries per lane, highest first.
func (s *Scheduler) QueueDepth() [lanes]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var depth [lanes]int
	for i, q := range s.queues {
		depth[i] = len(q)
	}
	return depth
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		entry := s.dequeue()
		if entry == nil {
			return
		}
		s.process(entry)
	}
}

// dequeue blocks for the next runnable entry, applying the weighted strict
// priority rule. Returns nil when the scheduler stops.
func (s *Scheduler) dequeue() *models.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.stopping {
			return nil
		}

		entry := s.pickLocked()
		if entry == nil {
			s.cond.Wait()
			continue
		}

		if entry.Status != models.StatusPending {
			// Cancelled while queued; never dispatched.
			continue
		}

		entry.Status = models.StatusRunning
		entry.DequeuedAt = time.Now().UTC()
		return entry
	}
}

func (s *Scheduler) pickLocked() *models.QueueEntry {
	highest := -1
	for i := 0; i < lanes; i++ {
		if len(s.queues[i]) > 0 {
			highest = i
			break
		}
	}
	if highest == -1 {
		return nil
	}

	lower := -1
	for i := highest + 1; i < lanes; i++ {
		if len(s.queues[i]) > 0 {
			lower = i
			break
		}
	}

	lane := highest
	if lower != -1 && s.starved >= s.cfg.StarvationLimit {
		lane = lower
		s.starved = 0
	} else if lower != -1 {
		s.starved++
	} else {
		s.starved = 0
	}

	entry := s.queues[lane][0]
	s.queues[lane] = s.queues[lane][1:]
	return entry
}

func (s *Scheduler) process(entry *models.QueueEntry) {
	maxRetries := entry.Request.MaxRetries
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		s.mu.Lock()
		entry.Attempts = attempt + 1
		attempted := append([]string(nil), entry.AttemptedProviders...)
		s.mu.Unlock()

		result, provider, err := s.dispatcher.ExecuteAttempt(context.Background(), entry.Request, attempted)

		s.mu.Lock()
		if provider != "" {
			entry.AssignedProvider = provider
			entry.AttemptedProviders = append(entry.AttemptedProviders, provider)
		}
		if err == nil {
			entry.Status = models.StatusSucceeded
			entry.Result = result
			entry.FinishedAt = time.Now().UTC()
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if provider == "" && errors.Is(err, models.ErrProviderUnavailable) {
			// Selection found no candidate: every configured provider is
			// excluded or open. Retrying cannot help until a breaker recovers,
			// and an earlier provider error is the more useful one to keep.
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		lastErr = err
		if attempt < maxRetries {
			time.Sleep(s.backoff(attempt))
		}
	}

	s.mu.Lock()
	entry.Status = models.StatusFailed
	entry.LastError = lastErr.Error()
	entry.FinishedAt = time.Now().UTC()
	s.mu.Unlock()
	log.Printf("[Scheduler] request %s failed after %d attempts: %v", entry.Request.ID, entry.Attempts, lastErr)
}

// backoff computes the exponential delay before retry attempt+1 with ±jitter.
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := time.Duration(float64(s.cfg.RetryBase) * math.Pow(s.cfg.RetryFactor, float64(attempt)))
	if d > s.cfg.RetryMax {
		d = s.cfg.RetryMax
	}
	jitter := (rand.Float64()*2 - 1) * s.cfg.RetryJitterPct * float64(d)
	return time.Duration(float64(d) + jitter)
}

// janitor drops terminal entries once their retention window expires.
func (s *Scheduler) janitor() {
	defer s.wg.Done()

	interval := s.cfg.Retention / 10
	if interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.expireHandles()
		}
	}
}

func (s *Scheduler) expireHandles() {
	cutoff := time.Now().UTC().Add(-s.cfg.Retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for handle, entry := range s.handles {
		if entry.Status.Terminal() && !entry.FinishedAt.IsZero() && entry.FinishedAt.Before(cutoff) {
			delete(s.handles, handle)
		}
	}
}
