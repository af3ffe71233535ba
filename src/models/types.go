package models

import (
	"strings"
	"time"
)

// Priority determines which scheduler lane a request lands in.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Lane maps a priority to its scheduler lane index, highest first.
func (p Priority) Lane() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

type Message struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// Request is an immutable AI request as submitted by a tenant.
type Request struct {
	ID           string        `json:"id"`
	OrgID        string        `json:"org_id"`
	ProviderHint string        `json:"provider_hint,omitempty"`
	Model        string        `json:"model"`
	Messages     []Message     `json:"messages"`
	Priority     Priority      `json:"priority"`
	MaxRetries   int           `json:"max_retries"`
	Timeout      time.Duration `json:"timeout"`
	SubmittedAt  time.Time     `json:"submitted_at"`

	// Embedding is computed once at submit time and reused when the response
	// is written back to the semantic cache. Never serialized.
	Embedding []float32 `json:"-"`
}

// PromptText returns the request content used for embedding and token estimation.
func (r *Request) PromptText() string {
	parts := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// UsageStats tracks token usage and cost for a single provider call.
type UsageStats struct {
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// ProviderResult is the outcome of one successful provider call.
type ProviderResult struct {
	Content  string        `json:"content"`
	Model    string        `json:"model"`
	Provider string        `json:"provider"`
	Usage    UsageStats    `json:"usage"`
	Latency  time.Duration `json:"latency"`
}

// QueueEntry wraps a Request with its scheduling state. It is owned by the
// scheduler; callers only ever see snapshots.
type QueueEntry struct {
	Request            *Request        `json:"request"`
	Status             Status          `json:"status"`
	Attempts           int             `json:"attempts"`
	AssignedProvider   string          `json:"assigned_provider,omitempty"`
	AttemptedProviders []string        `json:"attempted_providers,omitempty"`
	EnqueuedAt         time.Time       `json:"enqueued_at"`
	DequeuedAt         time.Time       `json:"dequeued_at,omitzero"`
	FinishedAt         time.Time       `json:"finished_at,omitzero"`
	Result             *ProviderResult `json:"result,omitempty"`
	LastError          string          `json:"last_error,omitempty"`
}

// SubmitResult is returned synchronously from Submit. On a semantic cache hit
// Response carries the cached content; otherwise Handle tracks the queued entry.
type SubmitResult struct {
	Handle     string          `json:"handle"`
	Cached     bool            `json:"cached"`
	Similarity float64         `json:"similarity,omitempty"`
	Response   *ProviderResult `json:"response,omitempty"`
	Status     Status          `json:"status"`
}

// BudgetPeriod is the window a budget limit applies to.
type BudgetPeriod string

const (
	PeriodHourly  BudgetPeriod = "hourly"
	PeriodDaily   BudgetPeriod = "daily"
	PeriodMonthly BudgetPeriod = "monthly"
)

func (p BudgetPeriod) Valid() bool {
	switch p {
	case PeriodHourly, PeriodDaily, PeriodMonthly:
		return true
	}
	return false
}

// Start returns the wall-clock (UTC) start of the period containing t.
func (p BudgetPeriod) Start(t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case PeriodHourly:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Budget is written only by administrator actions, never by the hot path.
type Budget struct {
	OrgID               string       `json:"org_id"`
	Period              BudgetPeriod `json:"period"`
	LimitUSD            float64      `json:"limit_usd"`
	WarningThresholdPct int          `json:"warning_threshold_pct"`
	AlertThresholdPct   int          `json:"alert_threshold_pct"`
	Rollover            bool         `json:"rollover"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

type AlertSeverity string

const (
	SeverityWarning AlertSeverity = "warning"
	SeverityAlert   AlertSeverity = "alert"
)

// Alert is an audit-trail record; only the Acknowledged flag ever changes.
type Alert struct {
	ID           string        `json:"id"`
	OrgID        string        `json:"org_id"`
	Severity     AlertSeverity `json:"severity"`
	Message      string        `json:"message"`
	CurrentCost  float64       `json:"current_cost"`
	LimitUSD     float64       `json:"limit_usd"`
	Threshold    int           `json:"threshold"`
	CreatedAt    time.Time     `json:"created_at"`
	Acknowledged bool          `json:"acknowledged"`
}

// Recommendation is a cost-optimization suggestion derived from usage metrics.
type Recommendation struct {
	OrgID               string    `json:"org_id"`
	Kind                string    `json:"kind"`
	Message             string    `json:"message"`
	EstimatedSavingsUSD float64   `json:"estimated_savings_usd,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}
