package providers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blipee/aiqueue/src/breaker"
	"github.com/blipee/aiqueue/src/mocks"
	"github.com/blipee/aiqueue/src/models"
)

func newStrategy(t *testing.T, provs ...models.Provider) (*CheapestAvailable, *breaker.Set) {
	t.Helper()
	registry := NewRegistry()
	for _, p := range provs {
		require.NoError(t, registry.Register(p))
	}
	breakers := breaker.NewSet(3, 30*time.Second)
	return NewCheapestAvailable(registry, breakers), breakers
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	p := &mocks.MockProvider{ProviderName: "openai", DefaultModel: "gpt-4o"}

	require.NoError(t, registry.Register(p))
	assert.Error(t, registry.Register(p), "duplicate registration")

	got, ok := registry.Get("openai")
	require.True(t, ok)
	assert.Equal(t, "openai", got.Name())

	_, ok = registry.Get("azure")
	assert.False(t, ok)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistry_ListKeepsRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&mocks.MockProvider{ProviderName: "openai"}))
	require.NoError(t, registry.Register(&mocks.MockProvider{ProviderName: "groq"}))

	names := []string{}
	for _, p := range registry.List() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"openai", "groq"}, names)
}

func TestCheapestAvailable_PicksLowestPrice(t *testing.T) {
	expensive := &mocks.MockProvider{ProviderName: "openai", InPricePerM: 2.5, OutPricePerM: 10}
	cheap := &mocks.MockProvider{ProviderName: "groq", InPricePerM: 0.1, OutPricePerM: 0.1}
	s, _ := newStrategy(t, expensive, cheap)

	p, err := s.Select("", nil)
	require.NoError(t, err)
	assert.Equal(t, "groq", p.Name())
}

func TestCheapestAvailable_HonorsHint(t *testing.T) {
	expensive := &mocks.MockProvider{ProviderName: "openai", InPricePerM: 2.5, OutPricePerM: 10}
	cheap := &mocks.MockProvider{ProviderName: "groq", InPricePerM: 0.1, OutPricePerM: 0.1}
	s, _ := newStrategy(t, expensive, cheap)

	p, err := s.Select("openai", nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name(), "hint wins over price")
}

func TestCheapestAvailable_HintWithOpenBreakerFallsBack(t *testing.T) {
	expensive := &mocks.MockProvider{ProviderName: "openai", InPricePerM: 2.5, OutPricePerM: 10}
	cheap := &mocks.MockProvider{ProviderName: "groq", InPricePerM: 0.1, OutPricePerM: 0.1}
	s, breakers := newStrategy(t, expensive, cheap)

	br := breakers.For("openai")
	br.ReportFailure()
	br.ReportFailure()
	br.ReportFailure()

	p, err := s.Select("openai", nil)
	require.NoError(t, err)
	assert.Equal(t, "groq", p.Name())
}

func TestCheapestAvailable_SkipsExcluded(t *testing.T) {
	expensive := &mocks.MockProvider{ProviderName: "openai", InPricePerM: 2.5, OutPricePerM: 10}
	cheap := &mocks.MockProvider{ProviderName: "groq", InPricePerM: 0.1, OutPricePerM: 0.1}
	s, _ := newStrategy(t, expensive, cheap)

	p, err := s.Select("", map[string]bool{"groq": true})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	// The hint is also subject to exclusion.
	p, err = s.Select("groq", map[string]bool{"groq": true})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestCheapestAvailable_NoneRoutable(t *testing.T) {
	only := &mocks.MockProvider{ProviderName: "openai", InPricePerM: 2.5, OutPricePerM: 10}
	s, breakers := newStrategy(t, only)

	br := breakers.For("openai")
	br.ReportFailure()
	br.ReportFailure()
	br.ReportFailure()

	_, err := s.Select("", nil)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)

	s2, _ := newStrategy(t, only)
	_, err = s2.Select("", map[string]bool{"openai": true})
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}
