package analyzer

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"content-radar/internal/infra/metrics"
)

// Price — стоимость 1000 токенов в долларах.
type Price struct {
	Prompt     float64
	Completion float64
}

// DefaultPricingModel используется для моделей, которых нет в таблице.
const DefaultPricingModel = "gpt-4o-mini"

// Prices — таблица цен по моделям.
var Prices = map[string]Price{
	"gpt-4o-mini":   {Prompt: 0.00015, Completion: 0.0006},
	"gpt-4o":        {Prompt: 0.0025, Completion: 0.01},
	"gpt-4.1-mini":  {Prompt: 0.0004, Completion: 0.0016},
	"gpt-4.1":       {Prompt: 0.002, Completion: 0.008},
	"gpt-3.5-turbo": {Prompt: 0.0005, Completion: 0.0015},
}

// Usage — отчёт модели о потраченных токенах.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CostSummary — итог сессии анализа.
type CostSummary struct {
	Model            string        `json:"model"`
	Duration         time.Duration `json:"duration"`
	Calls            int           `json:"calls"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	PromptCost       float64       `json:"prompt_cost"`
	CompletionCost   float64       `json:"completion_cost"`
	TotalCost        float64       `json:"total_cost"`
}

// CostAccountant копит расход токенов и денег за время жизни процесса.
type CostAccountant struct {
	model string
	price Price
	log   zerolog.Logger
	now   func() time.Time

	mu      sync.Mutex
	started time.Time
	calls   int
	usage   Usage
	prompt  float64
	compl   float64
}

// NewCostAccountant создаёт учёт для модели; неизвестная модель считается по цене DefaultPricingModel.
func NewCostAccountant(model string, logger zerolog.Logger) *CostAccountant {
	price, ok := Prices[model]
	if !ok {
		price = Prices[DefaultPricingModel]
	}
	now := func() time.Time { return time.Now().UTC() }
	return &CostAccountant{model: model, price: price, log: logger, now: now, started: now()}
}

// AddUsage добавляет отчёт и возвращает стоимость этого вызова.
func (c *CostAccountant) AddUsage(u Usage) float64 {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	promptCost := float64(u.PromptTokens) / 1000 * c.price.Prompt
	complCost := float64(u.CompletionTokens) / 1000 * c.price.Completion
	cost := promptCost + complCost

	c.mu.Lock()
	c.calls++
	c.usage.PromptTokens += u.PromptTokens
	c.usage.CompletionTokens += u.CompletionTokens
	c.usage.TotalTokens += u.TotalTokens
	c.prompt += promptCost
	c.compl += complCost
	total := c.prompt + c.compl
	c.mu.Unlock()

	metrics.ObserveLLMCost(c.model, cost)
	c.log.Info().
		Str("model", c.model).
		Int("prompt_tokens", u.PromptTokens).
		Int("completion_tokens", u.CompletionTokens).
		Float64("cost_usd", round6(cost)).
		Float64("session_cost_usd", round6(total)).
		Msg("analyzer: стоимость вызова")
	return cost
}

// SessionSummary возвращает накопленные значения; деньги округлены до 6 знаков.
func (c *CostAccountant) SessionSummary() CostSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CostSummary{
		Model:            c.model,
		Duration:         c.now().Sub(c.started),
		Calls:            c.calls,
		PromptTokens:     c.usage.PromptTokens,
		CompletionTokens: c.usage.CompletionTokens,
		TotalTokens:      c.usage.TotalTokens,
		PromptCost:       round6(c.prompt),
		CompletionCost:   round6(c.compl),
		TotalCost:        round6(c.prompt + c.compl),
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
