package notifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-radar/internal/adapters/analyzer"
	"content-radar/internal/domain"
	"content-radar/internal/usecase/crawl"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegramNotifySplitsLongReports(t *testing.T) {
	s := &fakeSender{}
	n := newTelegram(s, 42, zerolog.Nop())

	text := strings.Repeat("x", 4000) + "\n" + strings.Repeat("y", 200)
	require.NoError(t, n.Notify(context.Background(), text))
	require.Len(t, s.sent, 2)
	for _, m := range s.sent {
		assert.Equal(t, int64(42), m.ChatID)
		assert.Equal(t, tgbotapi.ModeHTML, m.ParseMode)
	}
	assert.Equal(t, strings.Repeat("y", 200), s.sent[1].Text)
}

func TestTelegramNotifyReturnsSendError(t *testing.T) {
	n := newTelegram(&fakeSender{err: errors.New("forbidden")}, 1, zerolog.Nop())
	assert.EqualError(t, n.Notify(context.Background(), "hi"), "forbidden")
}

func TestFormatCrawlReport(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	stats := crawl.RunStats{
		Platform:       "forum",
		Pages:          3,
		TotalItems:     20,
		NewItems:       18,
		DuplicateItems: 2,
		StartTime:      start,
		EndTime:        start.Add(90 * time.Second),
		Keywords: []crawl.KeywordStats{
			{Keyword: "<phone>", StartPage: 1, Pages: 3, NewItems: 18, DuplicateItems: 2, Completed: true},
			{Keyword: "tablet", AlreadyDone: true},
		},
	}
	out := FormatCrawlReport("forum_1", stats)

	assert.Contains(t, out, "<b>Сбор: forum</b>")
	assert.Contains(t, out, "<code>forum_1</code>")
	assert.Contains(t, out, "новых: 18 · дублей: 2")
	assert.Contains(t, out, "Длительность: 1m30s")
	assert.Contains(t, out, "• &lt;phone&gt; — с 1 стр., страниц 3, новых 18, дублей 2, ошибок 0 ✅")
	assert.Contains(t, out, "• tablet — уже собрано ранее")
}

func TestFormatProcessingReport(t *testing.T) {
	stats := domain.ProcessingStats{TotalItems: 12, ProcessedItems: 12, SuccessItems: 9, FailedItems: 3}

	out := FormatProcessingReport("qa", stats, nil)
	assert.Contains(t, out, "успешно: 9 · ошибок: 3")
	assert.Contains(t, out, "Успешность: 75.0%")
	assert.NotContains(t, out, "Расход")

	cost := &analyzer.CostSummary{Model: "gpt-4o-mini", Calls: 2, PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000, TotalCost: 0.00075}
	out = FormatProcessingReport("qa", stats, cost)
	assert.Contains(t, out, "Модель: gpt-4o-mini · вызовов: 2")
	assert.Contains(t, out, "Стоимость: $0.000750")
}

func TestNewFallsBackToLog(t *testing.T) {
	n := New("", 0, zerolog.Nop())
	_, ok := n.(*Log)
	require.True(t, ok)
	assert.NoError(t, n.Notify(context.Background(), "report"))
}
