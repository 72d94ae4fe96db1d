package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
)

// Options — параметры HTTP-доступа к поисковому API платформы.
type Options struct {
	SearchURL         string
	CommentsURL       string
	UserAgent         string
	RequestsPerSecond float64
	MaxConcurrency    int
	Timeout           time.Duration
}

// SearchAdapter получает страницы поиска по JSON API и сохраняет контент в общее хранилище.
// Поля ответа раскладываются по domain.FieldMapping платформы.
type SearchAdapter struct {
	mapping domain.PlatformMapping
	repo    domain.ContentRepo
	queue   domain.AnalysisQueue
	http    *http.Client
	limiter *rate.Limiter
	opts    Options
	log     zerolog.Logger
}

// NewSearchAdapter создаёт адаптер платформы.
func NewSearchAdapter(mapping domain.PlatformMapping, repo domain.ContentRepo, opts Options, logger zerolog.Logger) (*SearchAdapter, error) {
	if strings.TrimSpace(opts.SearchURL) == "" {
		return nil, domain.NewConfigError("CRAWL_SEARCH_URL", "is required")
	}
	if _, err := url.Parse(opts.SearchURL); err != nil {
		return nil, domain.NewConfigError("CRAWL_SEARCH_URL", err.Error())
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &SearchAdapter{
		mapping: mapping,
		repo:    repo,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
		log:     logger.With().Str("platform", mapping.Platform).Logger(),
	}, nil
}

// WithQueue включает постановку новых материалов в очередь анализа.
func (a *SearchAdapter) WithQueue(q domain.AnalysisQueue) *SearchAdapter {
	a.queue = q
	return a
}

// GetPageContent запрашивает страницу поиска и нормализует элементы.
func (a *SearchAdapter) GetPageContent(ctx context.Context, keyword string, page int) ([]domain.ContentItem, error) {
	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(a.mapping.PageSize))
	q.Set("platform", a.mapping.Platform)

	vars := map[string]string{"keyword": keyword, "page": strconv.Itoa(page)}
	payload, err := a.getJSON(ctx, "search", expandURL(a.opts.SearchURL, vars), q)
	if err != nil {
		return nil, err
	}
	raw, ok := lookupPath(payload, a.mapping.Fields.ItemsPath).([]any)
	if !ok {
		// отсутствующий список — пустая страница
		return nil, nil
	}

	items := make([]domain.ContentItem, 0, len(raw))
	for _, el := range raw {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		item, ok := a.toItem(obj, keyword)
		if !ok {
			a.log.Debug().Str("keyword", keyword).Int("page", page).Msg("platform: элемент без идентификатора пропущен")
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// StoreContent сохраняет элемент; повторный content_id заменяет запись.
func (a *SearchAdapter) StoreContent(ctx context.Context, keyword string, item domain.ContentItem) error {
	item.SourceKeyword = keyword
	if err := a.repo.UpsertContent(ctx, item); err != nil {
		if errors.Is(err, domain.ErrStorage) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return nil
}

// ExtractItemID возвращает идентификатор элемента.
func (a *SearchAdapter) ExtractItemID(item domain.ContentItem) string { return item.ContentID }

// ExtractItemTimestamp возвращает время создания в миллисекундах.
func (a *SearchAdapter) ExtractItemTimestamp(item domain.ContentItem) int64 { return item.CreatedAt }

// FetchDetails догружает комментарии сохранённых элементов страницы.
// Параллельность ограничена MaxConcurrency; ошибки отдельных элементов собираются вместе.
func (a *SearchAdapter) FetchDetails(ctx context.Context, keyword string, items []domain.ContentItem) error {
	if a.opts.CommentsURL == "" || a.mapping.Fields.CommentsPath == "" {
		return nil
	}
	errs := make([]error, len(items))
	var g errgroup.Group
	g.SetLimit(a.opts.MaxConcurrency)
	for i, item := range items {
		g.Go(func() error {
			comments, err := a.fetchComments(ctx, item.ContentID)
			if err != nil {
				errs[i] = fmt.Errorf("comments %s: %w", item.ContentID, err)
				return nil
			}
			if len(comments) == 0 {
				return nil
			}
			item.Comments = comments
			item.ContentLength = domain.ComputeContentLength(item)
			errs[i] = a.StoreContent(ctx, keyword, item)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// PageCommitted ставит новые материалы страницы в очередь анализа.
func (a *SearchAdapter) PageCommitted(ctx context.Context, keyword string, page int, newIDs []string) {
	if a.queue == nil || len(newIDs) == 0 {
		return
	}
	job := domain.AnalysisJob{Platform: a.mapping.Platform, ContentIDs: newIDs, SourceKeyword: keyword}
	if err := a.queue.Enqueue(ctx, job); err != nil {
		a.log.Warn().Err(err).Str("keyword", keyword).Int("page", page).Msg("platform: не удалось поставить задачу анализа")
	}
}

func (a *SearchAdapter) fetchComments(ctx context.Context, contentID string) ([]domain.Comment, error) {
	q := url.Values{}
	q.Set("content_id", contentID)
	q.Set("platform", a.mapping.Platform)
	payload, err := a.getJSON(ctx, "comments", expandURL(a.opts.CommentsURL, map[string]string{"id": contentID}), q)
	if err != nil {
		return nil, err
	}
	raw, ok := lookupPath(payload, a.mapping.Fields.CommentsPath).([]any)
	if !ok {
		return nil, nil
	}
	f := a.mapping.Fields
	comments := make([]domain.Comment, 0, len(raw))
	for _, el := range raw {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		id := scalarString(lookupPath(obj, f.CommentID))
		text := cleanText(scalarString(lookupPath(obj, f.CommentText)))
		if id == "" || text == "" {
			continue
		}
		comments = append(comments, domain.Comment{
			CommentID: id,
			Text:      text,
			CreatedAt: timestampMillis(lookupPath(obj, f.CommentTime), f.TimeInSeconds),
		})
	}
	return comments, nil
}

func (a *SearchAdapter) getJSON(ctx context.Context, operation, base string, q url.Values) (any, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", domain.ErrFetch, err)
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", domain.ErrFetch, err)
	}
	existing := u.Query()
	for k, vs := range q {
		if existing.Has(k) {
			continue
		}
		existing[k] = vs
	}
	u.RawQuery = existing.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	if a.opts.UserAgent != "" {
		req.Header.Set("User-Agent", a.opts.UserAgent)
	}

	start := time.Now()
	payload, err := a.do(req)
	metrics.ObserveNetworkRequest("platform", operation, a.mapping.Platform, start, err)
	return payload, err
}

func (a *SearchAdapter) do(req *http.Request) (any, error) {
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: unexpected status %d", domain.ErrFetch, resp.StatusCode)
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrFetch, err)
	}
	return payload, nil
}

func (a *SearchAdapter) toItem(obj map[string]any, keyword string) (domain.ContentItem, bool) {
	f := a.mapping.Fields
	id := scalarString(lookupPath(obj, f.IDField))
	if id == "" {
		return domain.ContentItem{}, false
	}
	item := domain.ContentItem{
		Platform:      a.mapping.Platform,
		ContentID:     id,
		Title:         cleanText(scalarString(lookupPath(obj, f.TitleField))),
		Body:          cleanText(scalarString(lookupPath(obj, f.BodyField))),
		CreatedAt:     timestampMillis(lookupPath(obj, f.CreatedField), f.TimeInSeconds),
		SourceKeyword: keyword,
	}
	item.ContentLength = domain.ComputeContentLength(item)
	return item, true
}

// expandURL подставляет {keyword}, {page} и {id} в шаблон адреса.
func expandURL(tmpl string, vars map[string]string) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", url.QueryEscape(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// lookupPath достаёт значение по пути через точку: "data.items".
func lookupPath(v any, path string) any {
	if path == "" {
		return nil
	}
	cur := v
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// timestampMillis понимает числа, числовые строки и RFC 3339.
func timestampMillis(v any, inSeconds bool) int64 {
	var n int64
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		n = int64(f)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			n = parsed
			break
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return 0
		}
		return t.UnixMilli()
	default:
		return 0
	}
	if inSeconds {
		n *= 1000
	}
	return n
}

// cleanText убирает HTML-разметку и схлопывает пробелы.
func cleanText(s string) string {
	if strings.ContainsRune(s, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}
