package analysis

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"content-radar/internal/domain"
)

func itemsWithLengths(lengths ...int) []domain.ContentItem {
	out := make([]domain.ContentItem, len(lengths))
	for i, l := range lengths {
		out[i] = domain.ContentItem{Platform: "news", ContentID: fmt.Sprintf("c%d", i), ContentLength: l}
	}
	return out
}

func batchIDs(batches [][]domain.ContentItem) [][]string {
	out := make([][]string, len(batches))
	for i, b := range batches {
		for _, item := range b {
			out[i] = append(out[i], item.ContentID)
		}
	}
	return out
}

func TestSplitOversizedFirstItem(t *testing.T) {
	items := itemsWithLengths(7000, 100, 100, 100, 100, 100)
	got := batchIDs(SplitToBatches(items, SplitOptions{CountLimit: 5, TargetLength: 6000, MaxLength: 8000}))
	want := [][]string{{"c0"}, {"c1", "c2", "c3", "c4", "c5"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("разбиение отличается (-want +got):\n%s", diff)
	}
}

func TestSplitByCountAndLength(t *testing.T) {
	cases := []struct {
		name    string
		lengths []int
		opts    SplitOptions
		want    [][]string
	}{
		{
			name:    "count limit",
			lengths: []int{10, 10, 10, 10, 10, 10, 10},
			opts:    SplitOptions{CountLimit: 3, TargetLength: 1000, MaxLength: 1000},
			want:    [][]string{{"c0", "c1", "c2"}, {"c3", "c4", "c5"}, {"c6"}},
		},
		{
			name:    "length target",
			lengths: []int{400, 400, 400, 100},
			opts:    SplitOptions{CountLimit: 5, TargetLength: 1000, MaxLength: 1000},
			want:    [][]string{{"c0", "c1"}, {"c2", "c3"}},
		},
		{
			name:    "oversized in the middle",
			lengths: []int{100, 5000, 100},
			opts:    SplitOptions{CountLimit: 5, TargetLength: 1000, MaxLength: 2000},
			want:    [][]string{{"c0"}, {"c1"}, {"c2"}},
		},
		{
			name:    "max length resplits",
			lengths: []int{600, 600, 600},
			opts:    SplitOptions{CountLimit: 5, TargetLength: 3000, MaxLength: 1000},
			want:    [][]string{{"c0"}, {"c1"}, {"c2"}},
		},
		{
			name:    "empty input",
			lengths: nil,
			opts:    SplitOptions{CountLimit: 5, TargetLength: 1000, MaxLength: 1000},
			want:    [][]string{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := batchIDs(SplitToBatches(itemsWithLengths(tc.lengths...), tc.opts))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("разбиение отличается (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplitInvariantsRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := rng.Intn(30)
		lengths := make([]int, n)
		for i := range lengths {
			lengths[i] = 1 + rng.Intn(3000)
		}
		opts := SplitOptions{
			CountLimit:   1 + rng.Intn(6),
			TargetLength: 500 + rng.Intn(4000),
			MaxLength:    500 + rng.Intn(6000),
		}
		items := itemsWithLengths(lengths...)
		batches := SplitToBatches(items, opts)

		var flat []string
		for _, b := range batches {
			if len(b) == 0 {
				t.Fatalf("round %d: пустая пачка", round)
			}
			if len(b) > opts.CountLimit {
				t.Fatalf("round %d: пачка из %d элементов при лимите %d", round, len(b), opts.CountLimit)
			}
			if len(b) > 1 && batchLength(b) > opts.MaxLength {
				t.Fatalf("round %d: пачка длиной %d больше потолка %d", round, batchLength(b), opts.MaxLength)
			}
			for _, item := range b {
				flat = append(flat, item.ContentID)
			}
		}
		var want []string
		for _, item := range items {
			want = append(want, item.ContentID)
		}
		if diff := cmp.Diff(want, flat); diff != "" {
			t.Fatalf("round %d: порядок нарушен (-want +got):\n%s", round, diff)
		}
	}
}

func TestSplitComputesLengthWhenNotCached(t *testing.T) {
	items := []domain.ContentItem{
		{ContentID: "a", Title: "привет", Body: "мир"},
		{ContentID: "b", Body: "длинный текст", Comments: []domain.Comment{{CommentID: "1", Text: "ок"}}},
	}
	got := batchIDs(SplitToBatches(items, SplitOptions{CountLimit: 5, TargetLength: 10, MaxLength: 20}))
	want := [][]string{{"a"}, {"b"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("разбиение отличается (-want +got):\n%s", diff)
	}
}
