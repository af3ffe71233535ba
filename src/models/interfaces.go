package models

import (
	"context"
	"time"
)

// Provider is the uniform adapter for a single LLM backend. Implementations
// must be safe for concurrent use and must return ErrTimeout (wrapped) when an
// attempt exceeds its deadline so the scheduler can count it as a failure.
type Provider interface {
	// Name identifies the backend for routing, breakers and ledger records.
	Name() string
	// Model returns the default model served by this adapter.
	Model() string
	// CostPerMTok returns the input/output price per one million tokens.
	CostPerMTok() (input, output float64)
	// Execute performs one completion attempt bounded by timeout.
	Execute(ctx context.Context, model string, messages []Message, timeout time.Duration) (*ProviderResult, error)
}

// Embedder produces the vectors the semantic cache compares. Repeated calls on
// identical text must yield near-identical vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Submitter is the client-facing surface of the orchestrator.
type Submitter interface {
	Submit(ctx context.Context, req *Request) (*SubmitResult, error)
	Status(handle string) (*QueueEntry, error)
	Cancel(handle string) error
}
