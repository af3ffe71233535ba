package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/blipee/aiqueue/src/ledger"
	"github.com/blipee/aiqueue/src/models"
)

const (
	budgetPrefix = "budget:"
	alertPrefix  = "alert:"
	alertsPrefix = "alerts:"
	firedPrefix  = "budget:fired:"
)

const (
	DefaultWarningThresholdPct = 80
	DefaultAlertThresholdPct   = 90
)

// Guard is the admission-control gate. It reads the organization's
// current-period spend from the ledger on every check and never mutates
// budgets itself; those change only through SetBudget.
type Guard struct {
	client *redis.Client
	ledger *ledger.CostLedger
	now    func() time.Time
}

func NewGuard(client *redis.Client, l *ledger.CostLedger) *Guard {
	return &Guard{client: client, ledger: l, now: time.Now}
}

// SetBudget creates or replaces an organization's budget.
func (g *Guard) SetBudget(ctx context.Context, b models.Budget) error {
	if b.OrgID == "" {
		return &models.ValidationError{Field: "org_id", Reason: "is required"}
	}
	if b.LimitUSD <= 0 {
		return &models.ValidationError{Field: "limit_usd", Reason: "must be positive"}
	}
	if !b.Period.Valid() {
		return &models.ValidationError{Field: "period", Reason: "must be hourly, daily or monthly"}
	}
	if b.WarningThresholdPct <= 0 {
		b.WarningThresholdPct = DefaultWarningThresholdPct
	}
	if b.AlertThresholdPct <= 0 {
		b.AlertThresholdPct = DefaultAlertThresholdPct
	}
	b.UpdatedAt = g.now().UTC()

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal budget: %w", err)
	}
	return g.client.Set(ctx, budgetPrefix+b.OrgID, data, 0).Err()
}

// GetBudget returns the organization's budget, or nil if none is configured.
func (g *Guard) GetBudget(ctx context.Context, orgID string) (*models.Budget, error) {
	val, err := g.client.Get(ctx, budgetPrefix+orgID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}

	var b models.Budget
	if err := json.Unmarshal([]byte(val), &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal budget: %w", err)
	}
	return &b, nil
}

// CheckAdmission denies a request whose estimated cost would push the
// organization past its limit, and emits warning/alert Alerts as thresholds
// are crossed. Organizations without a budget are always admitted.
func (g *Guard) CheckAdmission(ctx context.Context, orgID string, estimatedCost float64) error {
	b, err := g.GetBudget(ctx, orgID)
	if err != nil {
		return err
	}
	if b == nil {
		return nil
	}

	periodStart := b.Period.Start(g.now())
	spend := g.ledger.PeriodSpend(orgID, periodStart)
	pct := spend / b.LimitUSD * 100

	// Threshold alerts fire on recorded spend, not on the estimate, and at
	// most once per period.
	if pct >= float64(b.AlertThresholdPct) {
		g.fireOnce(ctx, b, periodStart, models.SeverityAlert, b.AlertThresholdPct, spend)
	} else if pct >= float64(b.WarningThresholdPct) {
		g.fireOnce(ctx, b, periodStart, models.SeverityWarning, b.WarningThresholdPct, spend)
	}

	if spend+estimatedCost > b.LimitUSD {
		return fmt.Errorf("org %s at $%.4f of $%.2f limit (estimate $%.4f): %w",
			orgID, spend, b.LimitUSD, estimatedCost, models.ErrBudgetExceeded)
	}
	return nil
}

func (g *Guard) fireOnce(ctx context.Context, b *models.Budget, periodStart time.Time, severity models.AlertSeverity, threshold int, spend float64) {
	marker := fmt.Sprintf("%s%s:%d:%d", firedPrefix, b.OrgID, periodStart.Unix(), threshold)
	set, err := g.client.SetNX(ctx, marker, "1", g.periodTTL(b.Period, periodStart)).Result()
	if err != nil {
		log.Printf("[Budget] Failed to mark threshold fired for %s: %v", b.OrgID, err)
		return
	}
	if !set {
		return
	}

	alert := models.Alert{
		ID:          uuid.NewString(),
		OrgID:       b.OrgID,
		Severity:    severity,
		Message:     fmt.Sprintf("spend $%.4f crossed %d%% of $%.2f %s budget", spend, threshold, b.LimitUSD, b.Period),
		CurrentCost: spend,
		LimitUSD:    b.LimitUSD,
		Threshold:   threshold,
		CreatedAt:   g.now().UTC(),
	}
	if err := g.saveAlert(ctx, &alert); err != nil {
		log.Printf("[Budget] Failed to save %s alert for %s: %v", severity, b.OrgID, err)
		return
	}
	log.Printf("[Budget] %s alert for org %s: %s", severity, b.OrgID, alert.Message)
}

func (g *Guard) periodTTL(p models.BudgetPeriod, start time.Time) time.Duration {
	var end time.Time
	switch p {
	case models.PeriodHourly:
		end = start.Add(time.Hour)
	case models.PeriodMonthly:
		end = start.AddDate(0, 1, 0)
	default:
		end = start.AddDate(0, 0, 1)
	}
	ttl := end.Sub(g.now())
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

func (g *Guard) saveAlert(ctx context.Context, alert *models.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	pipe := g.client.Pipeline()
	pipe.Set(ctx, alertPrefix+alert.ID, data, 0)
	pipe.RPush(ctx, alertsPrefix+alert.OrgID, alert.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// Alerts returns the organization's alerts, oldest first.
func (g *Guard) Alerts(ctx context.Context, orgID string) ([]models.Alert, error) {
	ids, err := g.client.LRange(ctx, alertsPrefix+orgID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	alerts := make([]models.Alert, 0, len(ids))
	for _, id := range ids {
		val, err := g.client.Get(ctx, alertPrefix+id).Result()
		if err != nil {
			continue
		}
		var alert models.Alert
		if err := json.Unmarshal([]byte(val), &alert); err != nil {
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// AcknowledgeAlert flips the acknowledged flag. Alerts are never deleted.
func (g *Guard) AcknowledgeAlert(ctx context.Context, alertID string) error {
	val, err := g.client.Get(ctx, alertPrefix+alertID).Result()
	if err == redis.Nil {
		return fmt.Errorf("alert %s: %w", alertID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get alert: %w", err)
	}

	var alert models.Alert
	if err := json.Unmarshal([]byte(val), &alert); err != nil {
		return fmt.Errorf("failed to unmarshal alert: %w", err)
	}
	alert.Acknowledged = true

	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return g.client.Set(ctx, alertPrefix+alertID, data, 0).Err()
}
