package analyzer

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCostAccountantAdditive(t *testing.T) {
	c := NewCostAccountant("gpt-4o", zerolog.Nop())

	first := c.AddUsage(Usage{PromptTokens: 100, CompletionTokens: 50})
	second := c.AddUsage(Usage{PromptTokens: 200, CompletionTokens: 25})

	s := c.SessionSummary()
	assert.Equal(t, 300, s.PromptTokens)
	assert.Equal(t, 75, s.CompletionTokens)
	assert.Equal(t, 375, s.TotalTokens)
	assert.Equal(t, 2, s.Calls)
	assert.InDelta(t, first+second, s.TotalCost, 1e-6)
	assert.InDelta(t, 0.00025+0.0005, first, 1e-12)
}

func TestCostAccountantUnknownModelUsesDefaultPrice(t *testing.T) {
	unknown := NewCostAccountant("some-local-model", zerolog.Nop())
	known := NewCostAccountant(DefaultPricingModel, zerolog.Nop())

	u := Usage{PromptTokens: 1234, CompletionTokens: 567}
	assert.Equal(t, known.AddUsage(u), unknown.AddUsage(u))
	assert.Equal(t, "some-local-model", unknown.SessionSummary().Model)
}

func TestCostAccountantRoundsSummary(t *testing.T) {
	c := NewCostAccountant("gpt-4o", zerolog.Nop())
	c.AddUsage(Usage{PromptTokens: 100, CompletionTokens: 100})

	s := c.SessionSummary()
	assert.Equal(t, round6(s.TotalCost), s.TotalCost)
	assert.InDelta(t, 0.00125, s.TotalCost, 1e-12)
}

func TestCostAccountantConcurrent(t *testing.T) {
	c := NewCostAccountant("gpt-4o-mini", zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AddUsage(Usage{PromptTokens: 10, CompletionTokens: 10})
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, c.SessionSummary().PromptTokens)
	assert.Equal(t, 50, c.SessionSummary().Calls)
}
