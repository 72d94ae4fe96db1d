package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-radar/internal/adapters/repo"
	"content-radar/internal/domain"
)

type recordingAnalyzer struct {
	mu       sync.Mutex
	batches  [][]string
	keywords []string
	pingErr  error
}

func (r *recordingAnalyzer) AnalyzeBatch(_ context.Context, items []domain.ContentItem, sourceKeyword string) []domain.AnalysisResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(items))
	out := make([]domain.AnalysisResult, len(items))
	for i, item := range items {
		ids[i] = item.ContentID
		out[i] = domain.AnalysisResult{ContentID: item.ContentID, Sentiment: domain.SentimentPositive, SentimentScore: 0.5, SourceKeyword: sourceKeyword}
	}
	r.batches = append(r.batches, ids)
	r.keywords = append(r.keywords, sourceKeyword)
	return out
}

func (r *recordingAnalyzer) Ping(context.Context) error { return r.pingErr }

func (r *recordingAnalyzer) batchSizes() []int {
	out := make([]int, len(r.batches))
	for i, b := range r.batches {
		out[i] = len(b)
	}
	return out
}

func seedContent(t *testing.T, mem *repo.Memory, platform string, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("%s-%02d", platform, i)
		require.NoError(t, mem.UpsertContent(context.Background(), domain.ContentItem{
			Platform:      platform,
			ContentID:     ids[i],
			Title:         "заголовок",
			Body:          "текст",
			SourceKeyword: "go",
		}))
	}
	return ids
}

func defaultSplit() SplitOptions {
	return SplitOptions{CountLimit: 5, TargetLength: 6000, MaxLength: 100000}
}

func TestProcessPlatformBatchesInOrder(t *testing.T) {
	mem := repo.NewMemory()
	ids := seedContent(t, mem, domain.PlatformNews, 12)
	analyzer := &recordingAnalyzer{}
	p := NewProcessor(mem, analyzer, defaultSplit(), zerolog.Nop())

	stats, err := p.ProcessPlatform(context.Background(), domain.PlatformNews, 12)
	require.NoError(t, err)

	assert.Equal(t, []int{5, 5, 2}, analyzer.batchSizes())
	assert.Equal(t, ids[:5], analyzer.batches[0])
	assert.Equal(t, ids[10:], analyzer.batches[2])
	assert.Equal(t, 12, stats.TotalItems)
	assert.Equal(t, 12, stats.SuccessItems+stats.FailedItems)
	assert.Equal(t, 12, stats.SuccessItems)
	assert.False(t, stats.EndTime.IsZero())
	assert.Equal(t, []string{"go", "go", "go"}, analyzer.keywords)

	res, ok := mem.Analysis(domain.PlatformNews, ids[7])
	require.True(t, ok)
	assert.Equal(t, domain.SentimentPositive, res.Sentiment)

	again, err := p.ProcessPlatform(context.Background(), domain.PlatformNews, 12)
	require.NoError(t, err)
	assert.Zero(t, again.TotalItems, "статистика сбрасывается между вызовами")
}

func TestProcessPlatformUnknownPlatform(t *testing.T) {
	p := NewProcessor(repo.NewMemory(), &recordingAnalyzer{}, defaultSplit(), zerolog.Nop())
	_, err := p.ProcessPlatform(context.Background(), "myspace", 10)
	require.Error(t, err)
	assert.True(t, domain.IsConfigError(err))
}

type flakyRepo struct {
	*repo.Memory
	calls    int
	failCall int
	partial  int
}

func (f *flakyRepo) BatchUpdateAnalysisResults(ctx context.Context, platform string, results []domain.AnalysisResult) (int, error) {
	f.calls++
	if f.calls == f.failCall {
		return 0, errors.New("deadlock detected")
	}
	if f.partial > 0 && f.calls == f.failCall+1 {
		n, err := f.Memory.BatchUpdateAnalysisResults(ctx, platform, results[:f.partial])
		return n, err
	}
	return f.Memory.BatchUpdateAnalysisResults(ctx, platform, results)
}

func TestProcessPlatformIsolatesBatchFailures(t *testing.T) {
	mem := repo.NewMemory()
	seedContent(t, mem, domain.PlatformForum, 12)
	r := &flakyRepo{Memory: mem, failCall: 1, partial: 3}
	analyzer := &recordingAnalyzer{}
	p := NewProcessor(r, analyzer, defaultSplit(), zerolog.Nop())

	stats, err := p.ProcessPlatform(context.Background(), domain.PlatformForum, 12)
	require.NoError(t, err)

	assert.Len(t, analyzer.batches, 3, "упавшая пачка не останавливает остальные")
	assert.Equal(t, 12, stats.ProcessedItems)
	assert.Equal(t, 3+2, stats.SuccessItems)
	assert.Equal(t, 5+2, stats.FailedItems)
}

func TestProcessSpecificContentCountsMissingAsSkipped(t *testing.T) {
	mem := repo.NewMemory()
	ids := seedContent(t, mem, domain.PlatformQA, 3)
	analyzer := &recordingAnalyzer{}
	p := NewProcessor(mem, analyzer, defaultSplit(), zerolog.Nop())

	stats, err := p.ProcessSpecificContent(context.Background(), domain.PlatformQA, []string{ids[0], "missing", ids[2], ids[0]})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalItems)
	assert.Equal(t, 1, stats.SkippedItems)
	assert.Equal(t, 2, stats.SuccessItems)
	assert.Zero(t, stats.FailedItems)
	assert.Equal(t, [][]string{{ids[0], ids[2]}}, analyzer.batches)
}

func TestProcessJobPassesSourceKeyword(t *testing.T) {
	mem := repo.NewMemory()
	ids := seedContent(t, mem, domain.PlatformNews, 2)
	analyzer := &recordingAnalyzer{}
	p := NewProcessor(mem, analyzer, defaultSplit(), zerolog.Nop())

	_, err := p.ProcessJob(context.Background(), domain.AnalysisJob{Platform: "NEWS", ContentIDs: ids, SourceKeyword: "rust"})
	require.NoError(t, err)
	assert.Equal(t, []string{"rust"}, analyzer.keywords)
}

func TestProcessPlatformMixedKeywordsLeavesKeywordToItems(t *testing.T) {
	mem := repo.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.UpsertContent(ctx, domain.ContentItem{Platform: domain.PlatformNews, ContentID: "a", Body: "x", SourceKeyword: "go"}))
	require.NoError(t, mem.UpsertContent(ctx, domain.ContentItem{Platform: domain.PlatformNews, ContentID: "b", Body: "y", SourceKeyword: "rust"}))
	analyzer := &recordingAnalyzer{}
	p := NewProcessor(mem, analyzer, defaultSplit(), zerolog.Nop())

	_, err := p.ProcessPlatform(ctx, domain.PlatformNews, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, analyzer.keywords)
}

func TestProcessPlatformStopsOnCancel(t *testing.T) {
	mem := repo.NewMemory()
	seedContent(t, mem, domain.PlatformNews, 6)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	analyzer := &recordingAnalyzer{}
	p := NewProcessor(mem, analyzer, defaultSplit(), zerolog.Nop())

	stats, err := p.ProcessPlatform(ctx, domain.PlatformNews, 10)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, analyzer.batches)
	assert.Equal(t, 6, stats.TotalItems)
	assert.False(t, stats.EndTime.IsZero())
}

func TestGetPlatformStats(t *testing.T) {
	mem := repo.NewMemory()
	seedContent(t, mem, domain.PlatformNews, 4)
	p := NewProcessor(mem, &recordingAnalyzer{}, SplitOptions{CountLimit: 2, TargetLength: 6000, MaxLength: 8000}, zerolog.Nop())
	_, err := p.ProcessPlatform(context.Background(), domain.PlatformNews, 2)
	require.NoError(t, err)

	stats, err := p.GetPlatformStats(context.Background(), domain.PlatformNews)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalContent)
	assert.Equal(t, 2, stats.AnalyzedContent)
	assert.Equal(t, 2, stats.PendingContent)
	assert.Equal(t, 2, stats.SentimentCounts["positive"])
	assert.InDelta(t, 0.5, stats.AvgSentimentScore, 1e-9)
}

func TestTestProcessing(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("synthetic sample", func(t *testing.T) {
		p := NewProcessor(repo.NewMemory(), &recordingAnalyzer{}, defaultSplit(), zerolog.Nop())
		p.SetClock(func() time.Time { return fixed })
		report, err := p.TestProcessing(context.Background(), domain.PlatformMicroblog)
		require.NoError(t, err)
		assert.Equal(t, "synthetic", report.SampleFrom)
		assert.Equal(t, "sample", report.Result.ContentID)
	})

	t.Run("ping failure", func(t *testing.T) {
		analyzer := &recordingAnalyzer{pingErr: errors.New("401")}
		p := NewProcessor(repo.NewMemory(), analyzer, defaultSplit(), zerolog.Nop())
		_, err := p.TestProcessing(context.Background(), domain.PlatformMicroblog)
		require.Error(t, err)
		assert.Empty(t, analyzer.batches)
	})

	t.Run("stored sample is not persisted", func(t *testing.T) {
		mem := repo.NewMemory()
		ids := seedContent(t, mem, domain.PlatformMicroblog, 1)
		p := NewProcessor(mem, &recordingAnalyzer{}, defaultSplit(), zerolog.Nop())
		report, err := p.TestProcessing(context.Background(), domain.PlatformMicroblog)
		require.NoError(t, err)
		assert.Equal(t, "storage", report.SampleFrom)
		_, analyzed := mem.Analysis(domain.PlatformMicroblog, ids[0])
		assert.False(t, analyzed)
	})
}

type sliceQueue struct {
	mu   sync.Mutex
	jobs []domain.AnalysisJob
	done chan struct{}
}

func (q *sliceQueue) Enqueue(_ context.Context, job domain.AnalysisJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *sliceQueue) Pop(ctx context.Context) (domain.AnalysisJob, error) {
	q.mu.Lock()
	if len(q.jobs) > 0 {
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		return job, nil
	}
	q.mu.Unlock()
	<-ctx.Done()
	return domain.AnalysisJob{}, ctx.Err()
}

func TestWorkerProcessesQueuedJobs(t *testing.T) {
	mem := repo.NewMemory()
	ids := seedContent(t, mem, domain.PlatformNews, 3)
	q := &sliceQueue{}
	require.NoError(t, q.Enqueue(context.Background(), domain.AnalysisJob{ID: "j1", Platform: domain.PlatformNews, ContentIDs: ids[:2]}))
	require.NoError(t, q.Enqueue(context.Background(), domain.AnalysisJob{ID: "j2", Platform: "unknown", ContentIDs: ids[2:]}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var (
		mu   sync.Mutex
		seen = map[string]error{}
	)
	p := NewProcessor(mem, &recordingAnalyzer{}, defaultSplit(), zerolog.Nop())
	w := NewWorker(q, p, zerolog.Nop(), func(_ context.Context, job domain.AnalysisJob, _ domain.ProcessingStats, err error) {
		mu.Lock()
		defer mu.Unlock()
		seen[job.ID] = err
		if len(seen) == 2 {
			cancel()
		}
	})

	require.NoError(t, w.Run(ctx))
	assert.NoError(t, seen["j1"])
	assert.True(t, domain.IsConfigError(seen["j2"]))
	_, ok := mem.Analysis(domain.PlatformNews, ids[0])
	assert.True(t, ok)
}
