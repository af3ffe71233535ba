package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/blipee/aiqueue/src/breaker"
	"github.com/blipee/aiqueue/src/budget"
	"github.com/blipee/aiqueue/src/cache"
	"github.com/blipee/aiqueue/src/ledger"
	"github.com/blipee/aiqueue/src/models"
	"github.com/blipee/aiqueue/src/providers"
	"github.com/blipee/aiqueue/src/scheduler"
	"github.com/blipee/aiqueue/src/utils"
)

const (
	DefaultMaxRetries = 2
	DefaultTimeout    = 30 * time.Second
)

// Orchestrator is the façade in front of the cache, budget guard, scheduler
// and providers. One instance per process, wired by explicit dependency
// injection; it also acts as the scheduler's Dispatcher, so every worker
// attempt flows back through it.
type Orchestrator struct {
	registry *providers.Registry
	strategy providers.SelectionStrategy
	breakers *breaker.Set
	cache    *cache.SemanticCache
	embedder models.Embedder
	ledger   *ledger.CostLedger
	guard    *budget.Guard

	sched *scheduler.Scheduler
}

func New(
	registry *providers.Registry,
	strategy providers.SelectionStrategy,
	breakers *breaker.Set,
	semCache *cache.SemanticCache,
	embedder models.Embedder,
	costLedger *ledger.CostLedger,
	guard *budget.Guard,
) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		strategy: strategy,
		breakers: breakers,
		cache:    semCache,
		embedder: embedder,
		ledger:   costLedger,
		guard:    guard,
	}
}

// AttachScheduler wires the scheduler after construction; the scheduler needs
// the orchestrator as its dispatcher, so the two cannot be built in one shot.
func (o *Orchestrator) AttachScheduler(s *scheduler.Scheduler) {
	o.sched = s
}

// Submit runs the admission path synchronously on the caller's goroutine:
// validation, semantic cache lookup, budget check, then enqueue. Cache hits
// return immediately with the cached content; nothing on this path touches
// the worker pool.
func (o *Orchestrator) Submit(ctx context.Context, req *models.Request) (*models.SubmitResult, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}
	o.applyDefaults(req)

	family := cache.ModelFamily(req.Model)

	embedding, err := o.embedder.Embed(ctx, req.PromptText())
	if err != nil {
		// A degraded embedder must not take submissions down with it; the
		// request just skips the cache.
		log.Printf("[Orchestrator] embedding failed for request %s: %v", req.ID, err)
	} else {
		req.Embedding = embedding

		hit, err := o.cache.Lookup(ctx, req.OrgID, family, embedding)
		if err != nil {
			log.Printf("[Orchestrator] cache lookup failed for request %s: %v", req.ID, err)
		} else if hit != nil {
			o.recordCacheHit(ctx, req, hit)
			return &models.SubmitResult{
				Handle:     req.ID,
				Cached:     true,
				Similarity: hit.Similarity,
				Response:   hit.Record.Response,
				Status:     models.StatusSucceeded,
			}, nil
		}
	}

	estimated := utils.EstimateRequestCost(req)
	if err := o.guard.CheckAdmission(ctx, req.OrgID, estimated); err != nil {
		return nil, err
	}

	// Fail fast when no provider is routable at all; actual assignment is
	// re-selected per attempt.
	if _, err := o.strategy.Select(req.ProviderHint, nil); err != nil {
		return nil, err
	}

	handle, err := o.sched.Enqueue(req)
	if err != nil {
		return nil, err
	}

	return &models.SubmitResult{
		Handle: handle,
		Status: models.StatusPending,
	}, nil
}

// Status returns a snapshot of the entry for the given handle.
func (o *Orchestrator) Status(handle string) (*models.QueueEntry, error) {
	return o.sched.Status(handle)
}

// Cancel is best-effort: pending entries are dropped before dispatch, running
// and terminal entries are untouched.
func (o *Orchestrator) Cancel(handle string) error {
	return o.sched.Cancel(handle)
}

// ExecuteAttempt implements scheduler.Dispatcher. It selects a provider for
// this attempt (honoring the hint, skipping already-attempted providers and
// open breakers), executes through the circuit breaker and records the
// outcome in the ledger and cache.
func (o *Orchestrator) ExecuteAttempt(ctx context.Context, req *models.Request, attempted []string) (*models.ProviderResult, string, error) {
	exclude := make(map[string]bool, len(attempted))
	for _, name := range attempted {
		exclude[name] = true
	}

	p, err := o.strategy.Select(req.ProviderHint, exclude)
	if err != nil {
		return nil, "", err
	}

	br := o.breakers.For(p.Name())
	if err := br.Allow(); err != nil {
		return nil, p.Name(), fmt.Errorf("%s circuit open: %w", p.Name(), err)
	}

	result, err := p.Execute(ctx, o.dispatchModel(req, p), req.Messages, req.Timeout)
	if err != nil {
		br.ReportFailure()
		o.recordError(ctx, req, p.Name())
		return nil, p.Name(), err
	}

	br.ReportSuccess()
	o.recordSuccess(ctx, req, result)
	o.storeInCache(ctx, req, result)
	return result, p.Name(), nil
}

// dispatchModel keeps the requested model when the provider actually serves
// its family; a fallback provider runs its own default model instead.
func (o *Orchestrator) dispatchModel(req *models.Request, p models.Provider) string {
	if p.Name() == req.ProviderHint {
		return req.Model
	}
	if cache.ModelFamily(req.Model) == cache.ModelFamily(p.Model()) {
		return req.Model
	}
	return p.Model()
}

func (o *Orchestrator) validate(req *models.Request) error {
	if req.OrgID == "" {
		return &models.ValidationError{Field: "org_id", Reason: "is required"}
	}
	if len(req.Messages) == 0 {
		return &models.ValidationError{Field: "messages", Reason: "must not be empty"}
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return &models.ValidationError{Field: "priority", Reason: "must be low, normal, high or critical"}
	}
	if req.ProviderHint != "" {
		if _, ok := o.registry.Get(req.ProviderHint); !ok {
			return &models.ValidationError{Field: "provider_hint", Reason: "names an unknown provider"}
		}
	}
	return nil
}

func (o *Orchestrator) applyDefaults(req *models.Request) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if req.MaxRetries == 0 {
		req.MaxRetries = DefaultMaxRetries
	}
	if req.MaxRetries < 0 {
		req.MaxRetries = 0
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	if req.Model == "" {
		if req.ProviderHint != "" {
			if p, ok := o.registry.Get(req.ProviderHint); ok {
				req.Model = p.Model()
			}
		}
		if req.Model == "" && o.registry.Len() > 0 {
			req.Model = o.registry.List()[0].Model()
		}
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now().UTC()
	}
}

// recordCacheHit writes a zero-billing ledger event; the avoided spend lands
// in the cost-saved metric only.
func (o *Orchestrator) recordCacheHit(ctx context.Context, req *models.Request, hit *cache.LookupResult) {
	ev := ledger.Event{
		IdempotencyKey: req.ID,
		OrgID:          req.OrgID,
		Provider:       hit.Record.Response.Provider,
		Model:          hit.Record.Response.Model,
		CacheHit:       true,
		CostSavedUSD:   hit.Record.Response.Usage.CostUSD,
	}
	if err := o.ledger.Record(ctx, ev); err != nil {
		log.Printf("[Orchestrator] failed to record cache hit for %s: %v", req.ID, err)
	}
}

func (o *Orchestrator) recordSuccess(ctx context.Context, req *models.Request, result *models.ProviderResult) {
	ev := ledger.Event{
		IdempotencyKey: fmt.Sprintf("%s:%s", req.ID, uuid.NewString()),
		OrgID:          req.OrgID,
		Provider:       result.Provider,
		Model:          result.Model,
		TokensIn:       result.Usage.TokensIn,
		TokensOut:      result.Usage.TokensOut,
		CostUSD:        result.Usage.CostUSD,
		LatencyMs:      result.Latency.Milliseconds(),
	}
	if err := o.ledger.Record(ctx, ev); err != nil {
		log.Printf("[Orchestrator] failed to record usage for %s: %v", req.ID, err)
	}
}

func (o *Orchestrator) recordError(ctx context.Context, req *models.Request, provider string) {
	ev := ledger.Event{
		IdempotencyKey: fmt.Sprintf("%s:%s", req.ID, uuid.NewString()),
		OrgID:          req.OrgID,
		Provider:       provider,
		Model:          req.Model,
		Errored:        true,
	}
	if err := o.ledger.Record(ctx, ev); err != nil {
		log.Printf("[Orchestrator] failed to record error for %s: %v", req.ID, err)
	}
}

func (o *Orchestrator) storeInCache(ctx context.Context, req *models.Request, result *models.ProviderResult) {
	embedding := req.Embedding
	if len(embedding) == 0 {
		var err error
		embedding, err = o.embedder.Embed(ctx, req.PromptText())
		if err != nil {
			log.Printf("[Orchestrator] embedding for cache store failed for %s: %v", req.ID, err)
			return
		}
	}
	family := cache.ModelFamily(req.Model)
	if err := o.cache.Store(ctx, req.OrgID, family, embedding, result); err != nil {
		log.Printf("[Orchestrator] cache store failed for %s: %v", req.ID, err)
	}
}
