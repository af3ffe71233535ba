package budget

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blipee/aiqueue/src/ledger"
	"github.com/blipee/aiqueue/src/models"
)

func newTestGuard(t *testing.T) (*Guard, *ledger.CostLedger) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	l := ledger.New(client, time.Hour)
	return NewGuard(client, l), l
}

func TestGuard_SetAndGetBudget(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	err := g.SetBudget(ctx, models.Budget{
		OrgID:    "org-1",
		LimitUSD: 100,
		Period:   models.PeriodMonthly,
	})
	require.NoError(t, err)

	b, err := g.GetBudget(ctx, "org-1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 100.0, b.LimitUSD)
	assert.Equal(t, models.PeriodMonthly, b.Period)
	assert.Equal(t, DefaultWarningThresholdPct, b.WarningThresholdPct)
	assert.Equal(t, DefaultAlertThresholdPct, b.AlertThresholdPct)
	assert.False(t, b.UpdatedAt.IsZero())
}

func TestGuard_GetBudgetMissing(t *testing.T) {
	g, _ := newTestGuard(t)

	b, err := g.GetBudget(context.Background(), "org-none")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestGuard_SetBudgetValidation(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	err := g.SetBudget(ctx, models.Budget{LimitUSD: 100, Period: models.PeriodDaily})
	assert.True(t, models.IsValidation(err))

	err = g.SetBudget(ctx, models.Budget{OrgID: "org-1", LimitUSD: -5, Period: models.PeriodDaily})
	assert.True(t, models.IsValidation(err))

	err = g.SetBudget(ctx, models.Budget{OrgID: "org-1", LimitUSD: 100, Period: "weekly"})
	assert.True(t, models.IsValidation(err))
}

func TestGuard_AdmissionWithoutBudget(t *testing.T) {
	g, _ := newTestGuard(t)

	// No budget configured: any estimate is admitted.
	assert.NoError(t, g.CheckAdmission(context.Background(), "org-free", 1e9))
}

func TestGuard_AdmissionDeniedOverLimit(t *testing.T) {
	g, l := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, g.SetBudget(ctx, models.Budget{
		OrgID:    "org-1",
		LimitUSD: 100,
		Period:   models.PeriodMonthly,
	}))
	require.NoError(t, l.Record(ctx, ledger.Event{OrgID: "org-1", Provider: "openai", Model: "gpt-4o", CostUSD: 96}))

	// 96 + 10 > 100: denied.
	err := g.CheckAdmission(ctx, "org-1", 10)
	assert.ErrorIs(t, err, models.ErrBudgetExceeded)

	// 96 + 3 <= 100: admitted even above the warning threshold.
	assert.NoError(t, g.CheckAdmission(ctx, "org-1", 3))
}

func TestGuard_ThresholdAlertFiresOncePerPeriod(t *testing.T) {
	g, l := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, g.SetBudget(ctx, models.Budget{
		OrgID:    "org-1",
		LimitUSD: 100,
		Period:   models.PeriodMonthly,
	}))
	require.NoError(t, l.Record(ctx, ledger.Event{OrgID: "org-1", Provider: "openai", Model: "gpt-4o", CostUSD: 85}))

	// Repeated checks above 80% produce exactly one warning.
	for i := 0; i < 5; i++ {
		require.NoError(t, g.CheckAdmission(ctx, "org-1", 0.01))
	}

	alerts, err := g.Alerts(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, DefaultWarningThresholdPct, alerts[0].Threshold)
	assert.InDelta(t, 85, alerts[0].CurrentCost, 1e-9)
	assert.False(t, alerts[0].Acknowledged)

	// Crossing 90% fires the alert severity, once, alongside the old warning.
	require.NoError(t, l.Record(ctx, ledger.Event{OrgID: "org-1", Provider: "openai", Model: "gpt-4o", CostUSD: 7}))
	for i := 0; i < 5; i++ {
		require.NoError(t, g.CheckAdmission(ctx, "org-1", 0.01))
	}

	alerts, err = g.Alerts(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, models.SeverityAlert, alerts[1].Severity)
}

func TestGuard_DenialDoesNotSuppressAlert(t *testing.T) {
	g, l := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, g.SetBudget(ctx, models.Budget{
		OrgID:    "org-1",
		LimitUSD: 10,
		Period:   models.PeriodDaily,
	}))
	require.NoError(t, l.Record(ctx, ledger.Event{OrgID: "org-1", Provider: "openai", Model: "gpt-4o", CostUSD: 9.5}))

	err := g.CheckAdmission(ctx, "org-1", 1)
	assert.ErrorIs(t, err, models.ErrBudgetExceeded)

	alerts, err := g.Alerts(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityAlert, alerts[0].Severity)
}

func TestGuard_AcknowledgeAlert(t *testing.T) {
	g, l := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, g.SetBudget(ctx, models.Budget{
		OrgID:    "org-1",
		LimitUSD: 10,
		Period:   models.PeriodDaily,
	}))
	require.NoError(t, l.Record(ctx, ledger.Event{OrgID: "org-1", Provider: "openai", Model: "gpt-4o", CostUSD: 9}))
	require.NoError(t, g.CheckAdmission(ctx, "org-1", 0.01))

	alerts, err := g.Alerts(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	require.NoError(t, g.AcknowledgeAlert(ctx, alerts[0].ID))

	alerts, err = g.Alerts(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1, "acknowledged alerts stay in the list")
	assert.True(t, alerts[0].Acknowledged)
}

func TestGuard_AcknowledgeUnknownAlert(t *testing.T) {
	g, _ := newTestGuard(t)
	err := g.AcknowledgeAlert(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGuard_CustomThresholds(t *testing.T) {
	g, l := newTestGuard(t)
	ctx := context.Background()

	require.NoError(t, g.SetBudget(ctx, models.Budget{
		OrgID:               "org-1",
		LimitUSD:            100,
		Period:              models.PeriodHourly,
		WarningThresholdPct: 50,
		AlertThresholdPct:   75,
	}))
	require.NoError(t, l.Record(ctx, ledger.Event{OrgID: "org-1", Provider: "openai", Model: "gpt-4o", CostUSD: 60}))

	require.NoError(t, g.CheckAdmission(ctx, "org-1", 1))

	alerts, err := g.Alerts(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, 50, alerts[0].Threshold)
}
