package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	preprocessRunsCompleted atomic.Int64
	preprocessRunsFailed    atomic.Int64
	preprocessRunsActive    atomic.Int64
	patientsProcessed       atomic.Int64
	chunksWritten           atomic.Int64
	batchesLoaded           atomic.Int64
	featuresMaterialized    atomic.Int64
)

func RunStarted() {
	preprocessRunsActive.Add(1)
}

func RunFinished(err error) {
	preprocessRunsActive.Add(-1)
	if err != nil {
		preprocessRunsFailed.Add(1)
		return
	}
	preprocessRunsCompleted.Add(1)
}

func ObservePatients(n int) {
	patientsProcessed.Add(int64(n))
}

func ObserveChunk() {
	chunksWritten.Add(1)
}

func ObserveBatch() {
	batchesLoaded.Add(1)
}

func ObserveFeatures(n int) {
	featuresMaterialized.Add(int64(n))
}

type snapshot struct {
	name, help, kind string
	value            int64
}

func snapshots() []snapshot {
	return []snapshot{
		{"ehrdata_preprocess_runs_completed_total", "Number of preprocessing runs that completed.", "counter", preprocessRunsCompleted.Load()},
		{"ehrdata_preprocess_runs_failed_total", "Number of preprocessing runs that failed.", "counter", preprocessRunsFailed.Load()},
		{"ehrdata_preprocess_runs_active", "Number of preprocessing runs in progress.", "gauge", preprocessRunsActive.Load()},
		{"ehrdata_preprocess_patients_total", "Number of patients numericalized and persisted.", "counter", patientsProcessed.Load()},
		{"ehrdata_preprocess_chunks_total", "Number of patient chunk files written.", "counter", chunksWritten.Load()},
		{"ehrdata_loader_batches_total", "Number of batches collated by data loaders.", "counter", batchesLoaded.Load()},
		{"ehrdata_feature_store_patients_total", "Number of patients materialized to the online feature cache.", "counter", featuresMaterialized.Load()},
	}
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	for _, s := range snapshots() {
		fmt.Fprintf(w, "# HELP %s %s\n", s.name, s.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", s.name, s.kind)
		fmt.Fprintf(w, "%s %d\n", s.name, s.value)
	}
}
