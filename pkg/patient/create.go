package patient

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
	obsmetrics "github.com/synaptica-ai/ehrdata/pkg/observability/metrics"
	"github.com/synaptica-ai/ehrdata/pkg/records"
	"golang.org/x/sync/errgroup"
)

// PoolConfig sizes the preprocessing worker pool.
type PoolConfig struct {
	Workers int
	Verbose bool
}

func DefaultPool() PoolConfig {
	return PoolConfig{Workers: runtime.NumCPU()}
}

type chunk struct {
	first, last int
}

// chunkIndices splits [0,total) into chunks of total/(workers-1) patients;
// the final chunk carries the remainder.
func chunkIndices(total, workers int) []chunk {
	if total <= 0 {
		return nil
	}
	size := total
	if workers > 1 {
		size = total / (workers - 1)
	}
	if size < 1 {
		size = 1
	}
	var chunks []chunk
	for i := 0; i < total; i += size {
		last := i + size - 1
		if last >= total {
			last = total - 1
		}
		chunks = append(chunks, chunk{first: i, last: last})
	}
	return chunks
}

// CreateSave builds every patient in tables and persists them in chunk files
// under Dir(outputDir, tables.Split, tables.Modality, w). It returns the
// number of patients written.
func CreateSave(ctx context.Context, tables records.Tables, vocabs records.VocabList, outputDir string, w records.AgeWindow, pool PoolConfig) (int, error) {
	if err := w.Validate(); err != nil {
		return 0, err
	}
	if pool.Workers <= 0 {
		pool.Workers = runtime.NumCPU()
	}

	dir := Dir(outputDir, tables.Split, tables.Modality, w)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", dir, err)
	}
	// A stale manifest would vouch for chunks this run has not written yet.
	if err := os.Remove(filepath.Join(dir, manifestName)); err != nil && !os.IsNotExist(err) {
		return 0, err
	}

	chunks := chunkIndices(len(tables.Patients), pool.Workers)
	counts := make([]int, len(chunks))
	names := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pool.Workers)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, name, err := createChunk(tables, vocabs, dir, w, c)
			if err != nil {
				return err
			}
			counts[i], names[i] = n, name
			if pool.Verbose {
				logger.Log.WithFields(map[string]interface{}{
					"chunk":    name,
					"patients": n,
				}).Info("completed patient chunk")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	sort.Strings(names)
	manifest := Manifest{
		Split:     tables.Split,
		Modality:  tables.Modality,
		Window:    w,
		Total:     total,
		Chunks:    names,
		CreatedAt: time.Now().UTC(),
	}
	if err := writeManifest(dir, manifest); err != nil {
		return 0, fmt.Errorf("writing manifest: %w", err)
	}
	if err := removeStaleChunks(dir, names); err != nil {
		logger.Log.WithError(err).WithField("dir", dir).Warn("failed to remove chunks from an earlier run")
	}
	obsmetrics.ObservePatients(total)

	logger.Log.WithFields(map[string]interface{}{
		"patients": total,
		"dir":      dir,
	}).Info("total patients completed, saved patient list")
	return total, nil
}

func createChunk(tables records.Tables, vocabs records.VocabList, dir string, w records.AgeWindow, c chunk) (int, string, error) {
	pts := make([]*Patient, 0, c.last-c.first+1)
	for idx := c.first; idx <= c.last; idx++ {
		row := tables.Patients[idx]

		var events [records.NumRecordTypes][]records.Event
		for rt := range events {
			if table := tables.Events[rt]; table != nil {
				events[rt] = table[row.PatientID]
			}
		}

		demo, ok := tables.Demographics[row.PatientID]
		if !ok {
			logger.Log.WithField("patient_id", row.PatientID).Warn("no demographics row, using empty row")
		}

		p, err := Create(events, demo, vocabs, row, w)
		if err != nil {
			return 0, "", err
		}
		pts = append(pts, p)
	}

	name := chunkName(c.first, c.last)
	if err := writeChunk(filepath.Join(dir, name), pts); err != nil {
		return 0, "", fmt.Errorf("writing %s: %w", name, err)
	}
	obsmetrics.ObserveChunk()
	return len(pts), name, nil
}

// Load reads the chunk files listed in the manifest CreateSave wrote for the
// given split, modality group and window, in manifest order.
func Load(path, split string, modality int, w records.AgeWindow) (*List, error) {
	dir := Dir(path, split, modality, w)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q does not exist, run preprocessing to create that dataset first", ErrNotPreprocessed, dir)
		}
		return nil, err
	}

	manifest, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	var items []*Patient
	for _, name := range manifest.Chunks {
		pts, err := readChunk(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s is missing chunk %s", ErrIncomplete, dir, name)
			}
			return nil, err
		}
		items = append(items, pts...)
	}

	if len(items) != manifest.Total {
		return nil, fmt.Errorf("%w: %s holds %d patients, manifest expects %d", ErrIncomplete, dir, len(items), manifest.Total)
	}

	logger.Log.WithFields(map[string]interface{}{
		"split":    split,
		"modality": modality,
		"patients": len(items),
	}).Debug("loaded patient list")

	return &List{
		Items:    items,
		BasePath: path,
		Split:    split,
		Modality: modality,
		Window:   w,
	}, nil
}

// removeStaleChunks deletes chunk files in dir that keep is not naming.
func removeStaleChunks(dir string, keep []string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*"+chunkExt))
	if err != nil {
		return err
	}
	current := make(map[string]bool, len(keep))
	for _, name := range keep {
		current[name] = true
	}
	for _, f := range files {
		if current[filepath.Base(f)] {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
