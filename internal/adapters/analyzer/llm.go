package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
	openai "content-radar/internal/infra/openai"
)

const (
	maxBodyRunes    = 2000
	maxComments     = 20
	maxCommentRunes = 200
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Options — параметры вызова модели и политики повторов.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// Analyzer анализирует пачку контента одним запросом к LLM.
type Analyzer struct {
	client chatClient
	model  string
	opts   Options
	cost   *CostAccountant
	log    zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

var _ domain.ContentAnalyzer = (*Analyzer)(nil)

// New создаёт анализатор; cost может быть nil.
func New(client chatClient, opts Options, cost *CostAccountant, logger zerolog.Logger) *Analyzer {
	if opts.Model == "" {
		opts.Model = DefaultPricingModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4000
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Analyzer{
		client: client,
		model:  opts.Model,
		opts:   opts,
		cost:   cost,
		log:    logger,
		now:    func() time.Time { return time.Now().UTC() },
		sleep:  sleepContext,
	}
}

// SetClock подменяет источник времени для analysis_timestamp.
func (a *Analyzer) SetClock(now func() time.Time) { a.now = now }

// SetSleep подменяет ожидание между повторами.
func (a *Analyzer) SetSleep(sleep func(ctx context.Context, d time.Duration) error) { a.sleep = sleep }

// Model возвращает идентификатор модели.
func (a *Analyzer) Model() string { return a.model }

// Ping проверяет доступность API модели.
func (a *Analyzer) Ping(ctx context.Context) error {
	p, ok := a.client.(pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

// AnalyzeBatch возвращает ровно по одному результату на каждый элемент.
// Ошибки модели и разбора превращаются в результаты-заглушки, наружу не выходят.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, items []domain.ContentItem, sourceKeyword string) []domain.AnalysisResult {
	if len(items) == 0 {
		return []domain.AnalysisResult{}
	}
	prompt, err := buildPrompt(items, sourceKeyword)
	if err != nil {
		a.log.Error().Err(err).Msg("analyzer: не удалось собрать промпт")
		return a.fallback(items, sourceKeyword, "prompt")
	}

	for attempt := 0; ; attempt++ {
		text, callErr := a.complete(ctx, prompt)
		if callErr == nil {
			return a.buildResults(text, items, sourceKeyword)
		}
		a.log.Warn().Err(callErr).Int("attempt", attempt+1).Int("items", len(items)).Msg("analyzer: ошибка вызова модели")
		if attempt >= a.opts.MaxRetries || ctx.Err() != nil {
			break
		}
		delay := a.opts.RetryDelay * time.Duration(1<<attempt)
		if err := a.sleep(ctx, delay); err != nil {
			break
		}
	}
	a.log.Error().Int("items", len(items)).Int("max_retries", a.opts.MaxRetries).Msg("analyzer: повторы исчерпаны, возвращаем заглушки")
	return a.fallback(items, sourceKeyword, "llm_error")
}

func (a *Analyzer) complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: a.opts.Temperature,
		MaxTokens:   a.opts.MaxTokens,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: prompt},
		},
	}
	resp, err := a.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		if !errors.Is(err, domain.ErrLLMCall) {
			err = fmt.Errorf("%w: %v", domain.ErrLLMCall, err)
		}
		return "", err
	}
	if resp.Usage != nil && a.cost != nil {
		a.cost.AddUsage(Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		})
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices: %w", domain.ErrLLMCall)
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *Analyzer) buildResults(text string, items []domain.ContentItem, sourceKeyword string) []domain.AnalysisResult {
	objects, err := parseAnalyses(text)
	if err != nil {
		a.log.Warn().Err(err).Int("items", len(items)).Msg("analyzer: ответ модели не разобран")
		return a.fallback(items, sourceKeyword, "parse")
	}
	if len(objects) != len(items) {
		a.log.Warn().Int("items", len(items)).Int("returned", len(objects)).Msg("analyzer: число ответов не совпадает с числом элементов")
	}

	results := make([]domain.AnalysisResult, len(items))
	missing := 0
	for i, item := range items {
		if i < len(objects) {
			results[i] = a.resultFromObject(objects[i], item, sourceKeyword)
			continue
		}
		results[i] = a.failedResult(item, sourceKeyword)
		missing++
	}
	metrics.ObserveFallback("short_response", missing)
	return results
}

func (a *Analyzer) fallback(items []domain.ContentItem, sourceKeyword, reason string) []domain.AnalysisResult {
	metrics.ObserveFallback(reason, len(items))
	results := make([]domain.AnalysisResult, len(items))
	for i, item := range items {
		results[i] = a.failedResult(item, sourceKeyword)
	}
	return results
}

const systemPrompt = `Ты аналитик пользовательского контента. Отвечай только JSON без пояснений и markdown.`

type promptComment struct {
	CommentID string `json:"comment_id"`
	Text      string `json:"text"`
}

type promptItem struct {
	ContentID     string          `json:"content_id"`
	Platform      string          `json:"platform"`
	Text          string          `json:"text"`
	Comments      []promptComment `json:"comments"`
	SourceKeyword string          `json:"source_keyword,omitempty"`
}

func buildPrompt(items []domain.ContentItem, sourceKeyword string) (string, error) {
	payload := make([]promptItem, 0, len(items))
	for _, item := range items {
		text := strings.TrimSpace(item.Title)
		if body := strings.TrimSpace(item.Body); body != "" {
			if text != "" {
				text += "\n"
			}
			text += body
		}
		comments := item.Comments
		if len(comments) > maxComments {
			comments = comments[:maxComments]
		}
		pc := make([]promptComment, 0, len(comments))
		for _, c := range comments {
			pc = append(pc, promptComment{CommentID: c.CommentID, Text: clipRunes(c.Text, maxCommentRunes)})
		}
		kw := sourceKeyword
		if kw == "" {
			kw = item.SourceKeyword
		}
		payload = append(payload, promptItem{
			ContentID:     item.ContentID,
			Platform:      item.Platform,
			Text:          clipRunes(text, maxBodyRunes),
			Comments:      pc,
			SourceKeyword: kw,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal items: %w", err)
	}
	return fmt.Sprintf(`Проанализируй каждый материал из списка ниже.
1. Определи тональность: "positive", "negative" или "neutral", и оценку sentiment_score от -1 до 1.
2. Напиши краткое резюме (summary) до 300 символов.
3. Выдели от 3 до 5 ключевых слов (keywords) и одну категорию (category).
4. Оцени relevance_score от 0 до 1: насколько материал соответствует его source_keyword.
5. Укажи до 3 идентификаторов самых показательных комментариев (key_comment_ids), только из входных данных.
Верни JSON-массив, по одному объекту на материал в том же порядке:
[{"content_id": "...", "sentiment": "...", "sentiment_score": 0, "summary": "...", "keywords": ["..."], "category": "...", "relevance_score": 0, "key_comment_ids": ["..."]}]
Материалы:
%s`, body), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
