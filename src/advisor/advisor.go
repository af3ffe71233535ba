package advisor

import (
	"context"
	"fmt"
	"time"

	"github.com/blipee/aiqueue/src/budget"
	"github.com/blipee/aiqueue/src/ledger"
	"github.com/blipee/aiqueue/src/models"
	"github.com/blipee/aiqueue/src/utils"
)

// Advisor derives cost-optimization recommendations from ledger metrics and
// budget state. Management-plane only; nothing here runs on the hot path.
type Advisor struct {
	ledger *ledger.CostLedger
	guard  *budget.Guard

	window time.Duration
	now    func() time.Time
}

func New(l *ledger.CostLedger, g *budget.Guard) *Advisor {
	return &Advisor{
		ledger: l,
		guard:  g,
		window: 30 * 24 * time.Hour,
		now:    time.Now,
	}
}

// UsageSummary aggregates an organization's buckets over the lookback window.
type UsageSummary struct {
	OrgID        string            `json:"org_id"`
	Since        time.Time         `json:"since"`
	CostUSD      float64           `json:"cost_usd"`
	CostSavedUSD float64           `json:"cost_saved_usd"`
	TokensIn     int64             `json:"tokens_in"`
	TokensOut    int64             `json:"tokens_out"`
	Requests     int64             `json:"requests"`
	CacheHits    int64             `json:"cache_hits"`
	Errors       int64             `json:"errors"`
	CacheHitRate float64           `json:"cache_hit_rate"`
	CostByModel  map[string]float64 `json:"cost_by_model"`
	Buckets      []ledger.Snapshot `json:"buckets"`
}

// Summary builds the usage summary for an organization.
func (a *Advisor) Summary(orgID string) *UsageSummary {
	since := a.now().UTC().Add(-a.window)
	buckets := a.ledger.OrgSnapshots(orgID, since)

	s := &UsageSummary{
		OrgID:       orgID,
		Since:       since,
		CostByModel: make(map[string]float64),
		Buckets:     buckets,
	}
	for _, b := range buckets {
		s.CostUSD += b.CostUSD
		s.CostSavedUSD += b.CostSavedUSD
		s.TokensIn += b.TokensIn
		s.TokensOut += b.TokensOut
		s.Requests += b.Requests
		s.CacheHits += b.CacheHits
		s.Errors += b.Errors
		s.CostByModel[b.Model] += b.CostUSD
	}
	if s.Requests > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(s.Requests)
	}
	return s
}

const (
	minRequestsForAdvice = 20
	lowCacheHitRate      = 0.10
	budgetPressurePct    = 70.0
)

// ListRecommendations inspects recent usage and the budget and emits
// actionable suggestions.
func (a *Advisor) ListRecommendations(ctx context.Context, orgID string) ([]models.Recommendation, error) {
	summary := a.Summary(orgID)
	now := a.now().UTC()
	var recs []models.Recommendation

	if b, err := a.guard.GetBudget(ctx, orgID); err != nil {
		return nil, err
	} else if b != nil {
		spend := a.ledger.PeriodSpend(orgID, b.Period.Start(now))
		pct := spend / b.LimitUSD * 100
		if pct >= budgetPressurePct {
			recs = append(recs, models.Recommendation{
				OrgID:     orgID,
				Kind:      "budget_pressure",
				Message:   fmt.Sprintf("spend is at %.0f%% of the %s budget; consider routing low priority requests to a cheaper model or raising the limit", pct, b.Period),
				CreatedAt: now,
			})
		}
	}

	if summary.Requests >= minRequestsForAdvice && summary.CacheHitRate < lowCacheHitRate {
		recs = append(recs, models.Recommendation{
			OrgID:     orgID,
			Kind:      "low_cache_hit_rate",
			Message:   fmt.Sprintf("semantic cache hit rate is %.1f%% over the last %d days; a lower similarity threshold could increase reuse", summary.CacheHitRate*100, int(a.window.Hours()/24)),
			CreatedAt: now,
		})
	}

	if rec := a.expensiveModelAdvice(summary, now); rec != nil {
		recs = append(recs, *rec)
	}

	if summary.CostSavedUSD > 0 {
		recs = append(recs, models.Recommendation{
			OrgID:               orgID,
			Kind:                "cache_savings",
			Message:             fmt.Sprintf("semantic caching avoided $%.4f of provider spend in the last %d days", summary.CostSavedUSD, int(a.window.Hours()/24)),
			EstimatedSavingsUSD: summary.CostSavedUSD,
			CreatedAt:           now,
		})
	}

	return recs, nil
}

// expensiveModelAdvice flags the dominant model when most spend goes to a
// premium tier and estimates what a mid-tier model would have cost.
func (a *Advisor) expensiveModelAdvice(summary *UsageSummary, now time.Time) *models.Recommendation {
	if summary.CostUSD <= 0 {
		return nil
	}

	var topModel string
	var topCost float64
	for model, cost := range summary.CostByModel {
		if cost > topCost {
			topModel, topCost = model, cost
		}
	}
	if topModel == "" || topCost/summary.CostUSD < 0.5 {
		return nil
	}

	cheaper := utils.ModelCost("gpt-4o", int(summary.TokensIn), int(summary.TokensOut))
	if cheaper <= 0 || cheaper >= topCost {
		return nil
	}

	return &models.Recommendation{
		OrgID:               summary.OrgID,
		Kind:                "model_downgrade",
		Message:             fmt.Sprintf("%s accounts for $%.4f of recent spend; a mid-tier model would have cost about $%.4f for the same volume", topModel, topCost, cheaper),
		EstimatedSavingsUSD: topCost - cheaper,
		CreatedAt:           now,
	}
}
