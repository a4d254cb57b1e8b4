package dataset

import (
	"math/rand"
	"sync"
)

// ModalityBatchSampler pre-builds batches that never cross a modality group.
// Batch membership is fixed at construction; when shuffling, the order of
// batches changes on every call to Batches.
type ModalityBatchSampler struct {
	batchSize int
	shuffle   bool

	mu      sync.Mutex
	rng     *rand.Rand
	batches [][]int
}

func NewModalityBatchSampler(groups [][]int, batchSize int, shuffle bool, seed int64) *ModalityBatchSampler {
	if batchSize <= 0 {
		batchSize = 1
	}
	s := &ModalityBatchSampler{
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
	s.batches = s.createBatches(groups)
	return s
}

func (s *ModalityBatchSampler) createBatches(groups [][]int) [][]int {
	var batches [][]int
	for _, group := range groups {
		indices := append([]int(nil), group...)
		if s.shuffle {
			s.rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
		}
		for lo := 0; lo < len(indices); lo += s.batchSize {
			hi := lo + s.batchSize
			if hi > len(indices) {
				hi = len(indices)
			}
			batches = append(batches, indices[lo:hi:hi])
		}
	}
	return batches
}

// Batches returns the batches for one epoch.
func (s *ModalityBatchSampler) Batches() [][]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuffle {
		s.rng.Shuffle(len(s.batches), func(i, j int) { s.batches[i], s.batches[j] = s.batches[j], s.batches[i] })
	}
	return append([][]int(nil), s.batches...)
}

func (s *ModalityBatchSampler) Len() int {
	return len(s.batches)
}

// NewModalitySampledDataset concatenates the per-group datasets and builds a
// sampler over their index ranges.
func NewModalitySampledDataset(datasets []Dataset, batchSize int, shuffle bool, seed int64) (*ConcatDataset, *ModalityBatchSampler) {
	concat := NewConcatDataset(datasets)
	ranges := concat.Ranges()
	groups := make([][]int, len(ranges))
	for i, r := range ranges {
		groups[i] = r.Indices()
	}
	return concat, NewModalityBatchSampler(groups, batchSize, shuffle, seed)
}
