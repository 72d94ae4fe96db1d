package progress

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-radar/internal/adapters/repo"
	"content-radar/internal/domain"
)

var fixedNow = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T, r domain.ProgressRepo, opts Options) *Store {
	t.Helper()
	s := NewStore(r, opts, zerolog.Nop())
	s.SetClock(func() time.Time { return fixedNow })
	return s
}

func defaultOpts() Options {
	return Options{StartPage: 1, MaxItemsPerKeyword: 30, PageSize: 10, ResumeEnabled: true}
}

func TestInitializeGeneratesTaskID(t *testing.T) {
	s := newTestStore(t, repo.NewMemory(), defaultOpts())
	task, err := s.Initialize(context.Background(), TaskSpec{Platform: "news", CrawlerType: "search", Keywords: []string{"a", "b"}, Config: map[string]int{"max_items": 30}})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(task.TaskID, "news_20240501_103000_"))
	assert.Equal(t, 2, task.TotalKeywords)
	assert.Equal(t, domain.StatusRunning, task.Status)
	assert.JSONEq(t, `{"max_items":30}`, string(task.ConfigSnapshot))
}

func TestResumePageLifecycle(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemory()
	s := newTestStore(t, mem, defaultOpts())
	_, err := s.Initialize(ctx, TaskSpec{Platform: "news", TaskID: "t1", Keywords: []string{"go"}})
	require.NoError(t, err)

	assert.Equal(t, 1, s.GetResumePage("go"))

	require.NoError(t, s.UpdateKeywordProgress(ctx, "go", 1, 10, "id-10", 1000))
	assert.Equal(t, 2, s.GetResumePage("go"))

	// новый процесс с тем же task_id продолжает со следующей страницы
	resumed := newTestStore(t, mem, defaultOpts())
	_, err = resumed.Initialize(ctx, TaskSpec{Platform: "news", TaskID: "t1", Keywords: []string{"go"}})
	require.NoError(t, err)
	assert.Equal(t, 2, resumed.GetResumePage("go"))

	require.NoError(t, resumed.MarkKeywordCompleted(ctx, "go"))
	assert.Equal(t, CompletedPage, resumed.GetResumePage("go"))
	assert.Equal(t, 1, resumed.Task().CompletedKeywords)
}

func TestResumeDisabledStartsOver(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemory()
	s := newTestStore(t, mem, defaultOpts())
	_, err := s.Initialize(ctx, TaskSpec{Platform: "news", TaskID: "t1", Keywords: []string{"go"}})
	require.NoError(t, err)
	require.NoError(t, s.MarkKeywordCompleted(ctx, "go"))

	opts := defaultOpts()
	opts.ResumeEnabled = false
	fresh := newTestStore(t, mem, opts)
	_, err = fresh.Initialize(ctx, TaskSpec{Platform: "news", TaskID: "t1", Keywords: []string{"go"}})
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.GetResumePage("go"))
}

func TestShouldSkipItemByTail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, repo.NewMemory(), defaultOpts())
	_, err := s.Initialize(ctx, TaskSpec{Platform: "news", TaskID: "t1", Keywords: []string{"go"}})
	require.NoError(t, err)

	assert.False(t, s.ShouldSkipItem("X", 500, "go"), "без прогресса ничего не пропускаем")

	const T = int64(1_700_000_000_000)
	require.NoError(t, s.UpdateKeywordProgress(ctx, "go", 1, 5, "X", T))

	cases := []struct {
		name string
		id   string
		ts   int64
		want bool
	}{
		{name: "older timestamp", id: "A", ts: T - 1, want: true},
		{name: "equal timestamp", id: "B", ts: T, want: true},
		{name: "same id newer", id: "X", ts: T + 10, want: true},
		{name: "newer and different", id: "C", ts: T + 1, want: false},
		{name: "unknown timestamp", id: "D", ts: 0, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.ShouldSkipItem(tc.id, tc.ts, "go"))
		})
	}
	assert.False(t, s.ShouldSkipItem("A", T-1, "other"), "прогресс другого слова не влияет")
}

func TestUpdateKeywordProgressAccumulates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, repo.NewMemory(), defaultOpts())
	_, err := s.Initialize(ctx, TaskSpec{Platform: "news", TaskID: "t1", Keywords: []string{"go"}})
	require.NoError(t, err)

	require.NoError(t, s.UpdateKeywordProgress(ctx, "go", 1, 4, "a", 100))
	require.NoError(t, s.UpdateKeywordProgress(ctx, "go", 2, 3, "", 0))

	p, ok := s.Keyword("go")
	require.True(t, ok)
	assert.Equal(t, 3, p.CurrentPage)
	assert.Equal(t, 7, p.ItemsCount)
	assert.Equal(t, "a", p.LastItemID, "пустой id не затирает последний")
	assert.Equal(t, int64(100), p.LastItemTimestamp)
}

func TestShouldStopCrawlingCompletesKeyword(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, repo.NewMemory(), defaultOpts())
	_, err := s.Initialize(ctx, TaskSpec{Platform: "news", TaskID: "t1", Keywords: []string{"go"}})
	require.NoError(t, err)

	assert.Equal(t, 3, s.MaxPage())
	stop, err := s.ShouldStopCrawling(ctx, "go", 3)
	require.NoError(t, err)
	assert.False(t, stop)

	stop, err = s.ShouldStopCrawling(ctx, "go", 4)
	require.NoError(t, err)
	assert.True(t, stop)
	assert.Equal(t, CompletedPage, s.GetResumePage("go"))
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, repo.NewMemory(), defaultOpts())
	_, err := s.Initialize(ctx, TaskSpec{Platform: "news", TaskID: "t1", Keywords: []string{"go"}})
	require.NoError(t, err)

	_, ok, err := s.GetCheckpoint(ctx, "go", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveCheckpoint(ctx, "go", 1, map[string]any{"item_ids": []string{"a", "b"}, "new": 2}))
	require.NoError(t, s.SaveCheckpoint(ctx, "go", 1, map[string]any{"item_ids": []string{"a"}, "new": 1}))

	cp, ok, err := s.GetCheckpoint(ctx, "go", 1)
	require.NoError(t, err)
	require.True(t, ok)
	var data map[string]any
	require.NoError(t, json.Unmarshal(cp.Data, &data))
	assert.EqualValues(t, 1, data["new"])
	assert.Len(t, cp.Hash, 64)
}

func TestUpdateStatisticsIsAdditive(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemory()
	s := newTestStore(t, mem, defaultOpts())
	_, err := s.Initialize(ctx, TaskSpec{Platform: "news", TaskID: "t1", Keywords: []string{"go"}})
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatistics(ctx, 10, 6, 3, 1))
	require.NoError(t, s.UpdateStatistics(ctx, 5, 5, 0, 0))

	rows := mem.Statistics("t1")
	require.Len(t, rows, 1)
	assert.Equal(t, 15, rows[0].TotalItems)
	assert.Equal(t, 11, rows[0].NewItems)
	assert.Equal(t, 3, rows[0].DuplicateItems)
	assert.Equal(t, 1, rows[0].FailedItems)
}

func TestCleanupKeepsProgress(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemory()
	s := newTestStore(t, mem, defaultOpts())
	_, err := s.Initialize(ctx, TaskSpec{Platform: "news", TaskID: "t1", Keywords: []string{"go"}})
	require.NoError(t, err)
	require.NoError(t, s.UpdateKeywordProgress(ctx, "go", 1, 1, "a", 1))
	require.NoError(t, s.Cleanup(ctx))

	task, err := mem.GetCrawlTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	rows, err := mem.ListKeywordProgress(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

type failingRepo struct {
	*repo.Memory
	err error
}

func (f *failingRepo) UpsertKeywordProgress(context.Context, domain.KeywordProgress) error {
	return f.err
}

func TestStorageErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	storageErr := errors.New("connection refused")
	s := newTestStore(t, &failingRepo{Memory: repo.NewMemory(), err: storageErr}, defaultOpts())
	_, err := s.Initialize(ctx, TaskSpec{Platform: "news", TaskID: "t1", Keywords: []string{"go"}})
	require.NoError(t, err)

	err = s.UpdateKeywordProgress(ctx, "go", 1, 1, "a", 1)
	require.ErrorIs(t, err, storageErr)
	assert.Equal(t, 1, s.GetResumePage("go"), "курсор не двигается при ошибке записи")
}
