package analysis

import "content-radar/internal/domain"

// SplitOptions — бюджеты пачки: число элементов и суммарная длина текста.
type SplitOptions struct {
	CountLimit   int
	TargetLength int
	MaxLength    int
}

func (o SplitOptions) normalized() SplitOptions {
	if o.CountLimit <= 0 {
		o.CountLimit = 5
	}
	if o.TargetLength <= 0 {
		o.TargetLength = o.MaxLength
	}
	if o.MaxLength <= 0 {
		o.MaxLength = o.TargetLength
	}
	return o
}

// SplitToBatches жадно раскладывает элементы по пачкам с сохранением порядка.
// Элемент длиннее целевой длины уходит отдельной пачкой без обрезки.
func SplitToBatches(items []domain.ContentItem, opts SplitOptions) [][]domain.ContentItem {
	opts = opts.normalized()
	batches := greedySplit(items, opts.CountLimit, opts.TargetLength)
	if opts.MaxLength <= 0 {
		return batches
	}

	out := make([][]domain.ContentItem, 0, len(batches))
	for _, batch := range batches {
		if len(batch) > 1 && batchLength(batch) > opts.MaxLength {
			out = append(out, greedySplit(batch, opts.CountLimit, opts.MaxLength)...)
			continue
		}
		out = append(out, batch)
	}
	return out
}

func greedySplit(items []domain.ContentItem, countLimit, target int) [][]domain.ContentItem {
	var (
		batches [][]domain.ContentItem
		current []domain.ContentItem
		length  int
	)
	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
		}
		current, length = nil, 0
	}

	for _, item := range items {
		size := item.Length()
		switch {
		case target > 0 && size > target:
			flush()
			batches = append(batches, []domain.ContentItem{item})
			continue
		case len(current) >= countLimit:
			flush()
		case target > 0 && len(current) > 0 && length+size > target:
			flush()
		}
		current = append(current, item)
		length += size
	}
	flush()
	return batches
}

func batchLength(batch []domain.ContentItem) int {
	total := 0
	for _, item := range batch {
		total += item.Length()
	}
	return total
}
