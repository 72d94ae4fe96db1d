package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-radar/internal/domain"
	openai "content-radar/internal/infra/openai"
)

type fakeChat struct {
	replies []string
	errs    []error
	usage   *openai.ChatCompletionUsage
	calls   int
	last    openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := f.calls
	f.calls++
	f.last = req
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	} else if len(f.replies) > 0 {
		reply = f.replies[len(f.replies)-1]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Role: "assistant", Content: reply}}},
		Usage:   f.usage,
	}, nil
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestAnalyzer(client chatClient, maxRetries int) (*Analyzer, *[]time.Duration) {
	a := New(client, Options{Model: "gpt-4o-mini", MaxRetries: maxRetries, RetryDelay: time.Second}, nil, zerolog.Nop())
	a.SetClock(func() time.Time { return testNow })
	var sleeps []time.Duration
	a.SetSleep(func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	})
	return a, &sleeps
}

func testItems(n int) []domain.ContentItem {
	items := make([]domain.ContentItem, n)
	for i := range items {
		items[i] = domain.ContentItem{
			Platform:      "news",
			ContentID:     string(rune('a' + i)),
			Title:         "заголовок",
			Body:          "текст",
			Comments:      []domain.Comment{{CommentID: "c1", Text: "ок"}},
			SourceKeyword: "own",
		}
	}
	return items
}

func TestAnalyzeBatchEmpty(t *testing.T) {
	client := &fakeChat{}
	a, _ := newTestAnalyzer(client, 3)
	assert.Empty(t, a.AnalyzeBatch(context.Background(), nil, "go"))
	assert.Zero(t, client.calls)
}

func TestAnalyzeBatchNotJSON(t *testing.T) {
	a, sleeps := newTestAnalyzer(&fakeChat{replies: []string{"not json"}}, 3)
	items := testItems(3)

	results := a.AnalyzeBatch(context.Background(), items, "go")
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, items[i].ContentID, r.ContentID)
		assert.Equal(t, domain.SentimentNeutral, r.Sentiment)
		assert.Zero(t, r.SentimentScore)
		assert.Zero(t, r.RelevanceScore)
		assert.Equal(t, FailedSummary, r.Summary)
		assert.Equal(t, FallbackCategory, r.Category)
		assert.Empty(t, r.Keywords)
	}
	assert.Empty(t, *sleeps, "ошибка разбора не повторяется")
}

func TestAnalyzeBatchRetriesThenFallsBack(t *testing.T) {
	callErr := errors.New("quota exceeded")
	client := &fakeChat{errs: []error{callErr, callErr, callErr, callErr}}
	a, sleeps := newTestAnalyzer(client, 3)

	results := a.AnalyzeBatch(context.Background(), testItems(2), "go")
	require.Len(t, results, 2)
	assert.Equal(t, 4, client.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *sleeps)
	assert.Equal(t, FailedSummary, results[1].Summary)
}

func TestAnalyzeBatchRecoversAfterRetry(t *testing.T) {
	client := &fakeChat{
		errs:    []error{errors.New("timeout")},
		replies: []string{"", `[{"sentiment":"positive","sentiment_score":0.7,"summary":"хорошо"}]`},
	}
	a, sleeps := newTestAnalyzer(client, 2)

	results := a.AnalyzeBatch(context.Background(), testItems(1), "go")
	require.Len(t, results, 1)
	assert.Equal(t, domain.SentimentPositive, results[0].Sentiment)
	assert.InDelta(t, 0.7, results[0].SentimentScore, 1e-9)
	assert.Len(t, *sleeps, 1)
}

func TestAnalyzeBatchClampsAndCoerces(t *testing.T) {
	reply := "```json\n" + `[
{"content_id":"zzz","sentiment":"POSITIVE","sentiment_score":1.5,"relevance_score":3,"summary":"` + strings.Repeat("я", 400) + `","keywords":["a","b","c","d","e","f"],"category":"tech","key_comment_ids":[1,2,3,4]},
{"sentiment":"angry","sentiment_score":-2,"relevance_score":-1,"keywords":"x, y"},
{"sentiment":"negative","sentiment_score":"0.4","relevance_score":"0.25"}
]` + "\n```"
	a, _ := newTestAnalyzer(&fakeChat{replies: []string{reply}}, 0)
	items := testItems(3)

	results := a.AnalyzeBatch(context.Background(), items, "")
	require.Len(t, results, 3)

	first := results[0]
	assert.Equal(t, "a", first.ContentID, "id берётся из входа, а не из ответа")
	assert.Equal(t, domain.SentimentPositive, first.Sentiment)
	assert.Equal(t, 1.0, first.SentimentScore)
	assert.Equal(t, 1.0, first.RelevanceScore)
	assert.Len(t, []rune(first.Summary), 300)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, first.Keywords)
	assert.Equal(t, []string{"1", "2", "3"}, first.KeyCommentIDs)
	assert.Equal(t, "tech", first.Category)
	assert.Equal(t, "own", first.SourceKeyword, "без аргумента берётся слово элемента")
	assert.Equal(t, domain.ComputeContentLength(items[0]), first.ContentLength)
	assert.Equal(t, 1, first.CommentCount)
	assert.Equal(t, "gpt-4o-mini", first.ModelVersion)
	assert.Equal(t, testNow, first.AnalysisTimestamp)

	second := results[1]
	assert.Equal(t, domain.SentimentNeutral, second.Sentiment)
	assert.Equal(t, -1.0, second.SentimentScore)
	assert.Equal(t, 0.0, second.RelevanceScore)
	assert.Equal(t, []string{"x", "y"}, second.Keywords)
	assert.Equal(t, FallbackCategory, second.Category)
	assert.Equal(t, []string{}, second.KeyCommentIDs)

	third := results[2]
	assert.Equal(t, domain.SentimentNegative, third.Sentiment)
	assert.InDelta(t, 0.4, third.SentimentScore, 1e-9)
	assert.InDelta(t, 0.25, third.RelevanceScore, 1e-9)
}

func TestAnalyzeBatchShortResponse(t *testing.T) {
	reply := `Вот результат: [{"sentiment":"positive","sentiment_score":0.5}] надеюсь, помог`
	a, _ := newTestAnalyzer(&fakeChat{replies: []string{reply}}, 0)
	items := testItems(3)

	results := a.AnalyzeBatch(context.Background(), items, "go")
	require.Len(t, results, 3)
	assert.Equal(t, domain.SentimentPositive, results[0].Sentiment)
	assert.Equal(t, "go", results[0].SourceKeyword)
	for i := 1; i < 3; i++ {
		assert.Equal(t, items[i].ContentID, results[i].ContentID)
		assert.Equal(t, FailedSummary, results[i].Summary)
	}
}

func TestAnalyzeBatchIgnoresExtraObjects(t *testing.T) {
	reply := `[{"sentiment":"positive"},{"sentiment":"negative"},{"sentiment":"neutral"}]`
	a, _ := newTestAnalyzer(&fakeChat{replies: []string{reply}}, 0)

	results := a.AnalyzeBatch(context.Background(), testItems(2), "go")
	require.Len(t, results, 2)
	assert.Equal(t, domain.SentimentNegative, results[1].Sentiment)
}

func TestAnalyzeBatchObjectIsParseFailure(t *testing.T) {
	a, _ := newTestAnalyzer(&fakeChat{replies: []string{`{"sentiment":"positive"}`}}, 0)
	results := a.AnalyzeBatch(context.Background(), testItems(1), "go")
	require.Len(t, results, 1)
	assert.Equal(t, FailedSummary, results[0].Summary)
}

func TestPromptTruncatesDeterministically(t *testing.T) {
	item := domain.ContentItem{ContentID: "x", Platform: "news", Body: strings.Repeat("б", 5000)}
	for i := 0; i < 30; i++ {
		item.Comments = append(item.Comments, domain.Comment{CommentID: "c", Text: strings.Repeat("к", 500)})
	}
	client := &fakeChat{replies: []string{"[]"}}
	a, _ := newTestAnalyzer(client, 0)
	a.AnalyzeBatch(context.Background(), []domain.ContentItem{item}, "go")

	prompt := client.last.Messages[1].Content
	assert.Contains(t, prompt, strings.Repeat("б", 2000))
	assert.NotContains(t, prompt, strings.Repeat("б", 2001))
	assert.Equal(t, 20, strings.Count(prompt, `"comment_id":"c"`))
	assert.NotContains(t, prompt, strings.Repeat("к", 201))
}

func TestAnalyzeBatchRecordsCost(t *testing.T) {
	cost := NewCostAccountant("gpt-4o-mini", zerolog.Nop())
	client := &fakeChat{
		replies: []string{`[{"sentiment":"neutral"}]`},
		usage:   &openai.ChatCompletionUsage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000},
	}
	a := New(client, Options{Model: "gpt-4o-mini"}, cost, zerolog.Nop())
	a.AnalyzeBatch(context.Background(), testItems(1), "go")

	summary := cost.SessionSummary()
	assert.Equal(t, 1, summary.Calls)
	assert.Equal(t, 2000, summary.TotalTokens)
	assert.InDelta(t, 0.00075, summary.TotalCost, 1e-9)
}
