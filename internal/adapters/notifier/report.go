package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"content-radar/internal/adapters/analyzer"
	"content-radar/internal/domain"
	"content-radar/internal/usecase/crawl"
)

// FormatCrawlReport формирует HTML-отчёт о запуске сбора.
func FormatCrawlReport(taskID string, stats crawl.RunStats) string {
	var sections []string

	var head strings.Builder
	head.WriteString("🕷 <b>Сбор: " + escape(stats.Platform) + "</b>")
	if taskID != "" {
		head.WriteString("\nЗадача: <code>" + escape(taskID) + "</code>")
	}
	fmt.Fprintf(&head, "\nСтраниц: %d · всего: %d · новых: %d · дублей: %d · ошибок: %d",
		stats.Pages, stats.TotalItems, stats.NewItems, stats.DuplicateItems, stats.FailedItems)
	if d := elapsed(stats.StartTime, stats.EndTime); d > 0 {
		head.WriteString("\nДлительность: " + d.String())
	}
	sections = append(sections, head.String())

	if len(stats.Keywords) > 0 {
		var kw strings.Builder
		kw.WriteString("🔑 <b>Ключевые слова</b>")
		for _, k := range stats.Keywords {
			kw.WriteString("\n" + keywordLine(k))
		}
		sections = append(sections, kw.String())
	}
	return strings.Join(sections, "\n\n")
}

func keywordLine(k crawl.KeywordStats) string {
	name := escape(k.Keyword)
	if k.AlreadyDone {
		return "• " + name + " — уже собрано ранее"
	}
	mark := "⏸"
	if k.Completed {
		mark = "✅"
	}
	return fmt.Sprintf("• %s — с %d стр., страниц %d, новых %d, дублей %d, ошибок %d %s",
		name, k.StartPage, k.Pages, k.NewItems, k.DuplicateItems, k.FailedItems, mark)
}

// FormatProcessingReport формирует HTML-отчёт об анализе; cost может быть nil.
func FormatProcessingReport(platform string, stats domain.ProcessingStats, cost *analyzer.CostSummary) string {
	var b strings.Builder
	b.WriteString("🧠 <b>Анализ: " + escape(platform) + "</b>")
	fmt.Fprintf(&b, "\nВсего: %d · обработано: %d · успешно: %d · ошибок: %d · пропущено: %d",
		stats.TotalItems, stats.ProcessedItems, stats.SuccessItems, stats.FailedItems, stats.SkippedItems)
	fmt.Fprintf(&b, "\nУспешность: %.1f%%", stats.SuccessRate()*100)
	if d := elapsed(stats.StartTime, stats.EndTime); d > 0 {
		b.WriteString("\nДлительность: " + d.String())
	}
	if cost != nil && cost.Calls > 0 {
		fmt.Fprintf(&b, "\n\n💰 <b>Расход</b>\nМодель: %s · вызовов: %d\nТокены: %d (запрос %d, ответ %d)\nСтоимость: $%.6f",
			escape(cost.Model), cost.Calls, cost.TotalTokens, cost.PromptTokens, cost.CompletionTokens, cost.TotalCost)
	}
	return b.String()
}

func elapsed(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start).Round(time.Second)
}

func escape(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
