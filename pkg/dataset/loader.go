package dataset

import (
	"context"
	"sync"

	obsmetrics "github.com/synaptica-ai/ehrdata/pkg/observability/metrics"
)

// CollateFunc turns the items of one batch into a Batch.
type CollateFunc func([]Item) (*Batch, error)

// Loader fetches and collates batches with a pool of worker goroutines. At
// most Prefetch batches are in flight ahead of the consumer, and batches are
// delivered in sampler order.
type Loader struct {
	Dataset    Dataset
	Sampler    *ModalityBatchSampler
	Collate    CollateFunc
	NumWorkers int
	Prefetch   int
}

func NewLoader(ds Dataset, sampler *ModalityBatchSampler, numWorkers int) *Loader {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Loader{
		Dataset:    ds,
		Sampler:    sampler,
		Collate:    Collate,
		NumWorkers: numWorkers,
		Prefetch:   2 * numWorkers,
	}
}

func (l *Loader) Len() int {
	return l.Sampler.Len()
}

type loadResult struct {
	batch *Batch
	err   error
}

type loadJob struct {
	indices []int
	out     chan loadResult
}

// Iterate runs one epoch, calling fn for every batch. It stops at the first
// error from loading, collation or fn.
func (l *Loader) Iterate(ctx context.Context, fn func(*Batch) error) error {
	batches := l.Sampler.Batches()
	workers := l.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	prefetch := l.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	jobs := make(chan loadJob)
	pending := make(chan chan loadResult, prefetch)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				b, err := l.fetch(j.indices)
				j.out <- loadResult{batch: b, err: err}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		defer close(pending)
		for _, indices := range batches {
			out := make(chan loadResult, 1)
			select {
			case pending <- out:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- loadJob{indices: indices, out: out}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for out := range pending {
		var res loadResult
		select {
		case res = <-out:
		case <-ctx.Done():
			return ctx.Err()
		}
		if res.err != nil {
			return res.err
		}
		obsmetrics.ObserveBatch()
		if err := fn(res.batch); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (l *Loader) fetch(indices []int) (*Batch, error) {
	items := make([]Item, len(indices))
	for i, idx := range indices {
		it, err := l.Dataset.Item(idx)
		if err != nil {
			return nil, err
		}
		items[i] = it
	}
	collate := l.Collate
	if collate == nil {
		collate = Collate
	}
	return collate(items)
}
