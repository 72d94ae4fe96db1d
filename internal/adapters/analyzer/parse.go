package analyzer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"content-radar/internal/domain"
)

const (
	// FallbackCategory ставится, когда модель не назвала категорию.
	FallbackCategory = "other"
	// FailedSummary — текст результата-заглушки.
	FailedSummary = "analysis failed"

	maxSummaryRunes  = 300
	maxKeywords      = 5
	maxKeyCommentIDs = 3
)

// parseAnalyses разбирает ответ модели в массив объектов.
// Ошибка оборачивает domain.ErrParse и означает «весь ответ непригоден».
func parseAnalyses(text string) ([]map[string]any, error) {
	payload := extractJSONArray(text)
	if payload == "" {
		return nil, fmt.Errorf("empty response: %w", domain.ErrParse)
	}
	var top any
	if err := json.Unmarshal([]byte(payload), &top); err != nil {
		return nil, fmt.Errorf("decode: %v: %w", err, domain.ErrParse)
	}
	arr, ok := top.([]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is %T, want array: %w", top, domain.ErrParse)
	}
	out := make([]map[string]any, len(arr))
	for i, v := range arr {
		// не-объект превращается в пустую запись и получит значения по умолчанию
		obj, _ := v.(map[string]any)
		out[i] = obj
	}
	return out, nil
}

// extractJSONArray снимает markdown-ограды и вырезает массив, если модель добавила текст вокруг.
func extractJSONArray(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		return s
	}
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// resultFromObject строит проверенный результат из объекта модели.
// Идентификатор и длины всегда берутся из входного элемента.
func (a *Analyzer) resultFromObject(obj map[string]any, item domain.ContentItem, sourceKeyword string) domain.AnalysisResult {
	res := a.baseResult(item, sourceKeyword)

	sentiment := domain.Sentiment(strings.ToLower(strings.TrimSpace(asString(obj["sentiment"]))))
	if sentiment.Valid() {
		res.Sentiment = sentiment
	}
	if v, ok := asFloat(obj["sentiment_score"]); ok {
		res.SentimentScore = clamp(v, -1, 1)
	}
	if v, ok := asFloat(obj["relevance_score"]); ok {
		res.RelevanceScore = clamp(v, 0, 1)
	}
	res.Summary = clipRunes(strings.TrimSpace(asString(obj["summary"])), maxSummaryRunes)
	if category := strings.TrimSpace(asString(obj["category"])); category != "" {
		res.Category = category
	}
	res.Keywords = asStringList(obj["keywords"], maxKeywords)
	res.KeyCommentIDs = asStringList(obj["key_comment_ids"], maxKeyCommentIDs)
	return res
}

// failedResult — заглушка с нейтральной тональностью и нулевыми оценками.
func (a *Analyzer) failedResult(item domain.ContentItem, sourceKeyword string) domain.AnalysisResult {
	res := a.baseResult(item, sourceKeyword)
	res.Summary = FailedSummary
	return res
}

func (a *Analyzer) baseResult(item domain.ContentItem, sourceKeyword string) domain.AnalysisResult {
	if sourceKeyword == "" {
		sourceKeyword = item.SourceKeyword
	}
	return domain.AnalysisResult{
		ContentID:         item.ContentID,
		Sentiment:         domain.SentimentNeutral,
		Category:          FallbackCategory,
		Keywords:          []string{},
		KeyCommentIDs:     []string{},
		AnalysisTimestamp: a.now(),
		ModelVersion:      a.model,
		ContentLength:     domain.ComputeContentLength(item),
		CommentCount:      len(item.Comments),
		SourceKeyword:     sourceKeyword,
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

func asStringList(v any, limit int) []string {
	var raw []any
	switch x := v.(type) {
	case []any:
		raw = x
	case string:
		for _, part := range strings.Split(x, ",") {
			raw = append(raw, part)
		}
	}
	out := make([]string, 0, len(raw))
	for _, el := range raw {
		s := strings.TrimSpace(asString(el))
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}

func clipRunes(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}
