package preprocess

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
	"github.com/synaptica-ai/ehrdata/pkg/common/models"
	"github.com/synaptica-ai/ehrdata/pkg/dataset"
	"github.com/synaptica-ai/ehrdata/pkg/ehrsource"
	obsmetrics "github.com/synaptica-ai/ehrdata/pkg/observability/metrics"
	"github.com/synaptica-ai/ehrdata/pkg/patient"
	"github.com/synaptica-ai/ehrdata/pkg/records"
	"github.com/synaptica-ai/ehrdata/pkg/storage"
	"github.com/synaptica-ai/ehrdata/pkg/vocab"
)

var ErrInvalidRequest = errors.New("invalid preprocess request")

// Publisher emits run lifecycle events.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// Options are the values a request falls back to when it leaves them unset.
type Options struct {
	DataPath  string
	VocabPath string
	Workers   int
	Verbose   bool
}

// CreateAllPatientLists preprocesses every modality group of train, valid and
// test found under {path}/cleaned. With deleteExisting, chunk files from an
// earlier run are removed first. Each group is materialized to the feature
// store when one is given.
func CreateAllPatientLists(ctx context.Context, path, vocabPath string, w records.AgeWindow, pool patient.PoolConfig, deleteExisting bool, features *storage.FeatureStore) ([]GroupResult, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if vocabPath == "" {
		vocabPath = path
	}
	vocabs, err := vocab.LoadList(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary: %w", err)
	}

	var results []GroupResult
	for _, split := range dataset.Splits {
		codes, err := ehrsource.Modalities(path, split)
		if err != nil {
			return results, fmt.Errorf("%s: %w", split, err)
		}
		for _, code := range codes {
			if _, err := dataset.ParseModalityType(code); err != nil {
				return results, fmt.Errorf("%s: %w", split, err)
			}
			if err := ctx.Err(); err != nil {
				return results, err
			}

			tables, err := ehrsource.Load(path, split, code)
			if err != nil {
				return results, fmt.Errorf("%s/modality_%d: %w", split, code, err)
			}
			if deleteExisting {
				if err := patient.DeleteChunks(patient.Dir(path, split, code, w)); err != nil {
					return results, err
				}
			}
			n, err := patient.CreateSave(ctx, tables, vocabs, path, w, pool)
			if err != nil {
				return results, fmt.Errorf("%s/modality_%d: %w", split, code, err)
			}
			result := GroupResult{Split: split, Modality: code, Patients: n}

			if features != nil {
				list, err := patient.Load(path, split, code, w)
				if err != nil {
					return results, err
				}
				if result.Features, err = features.MaterializeList(ctx, list); err != nil {
					// cache failures do not fail the run
					logger.Log.WithError(err).WithField("split", split).Warn("feature materialization failed")
				}
				obsmetrics.ObserveFeatures(result.Features)
			}
			results = append(results, result)
		}
	}
	return results, nil
}

// Stats summarizes the preprocessed splits of a dataset.
func Stats(path string, w records.AgeWindow, labels []string) (models.DatasetStats, error) {
	splits, err := dataset.LoadSplits(path, w)
	if err != nil {
		return models.DatasetStats{}, err
	}
	return models.DatasetStats{
		DataPath:    path,
		Window:      w.String(),
		Lengths:     splits.Lengths(),
		LabelCounts: splits.LabelCounts(labels),
		PosWeights:  splits.PosWeights(labels),
	}, nil
}

// Service tracks preprocessing runs requested over HTTP or the event bus.
type Service struct {
	runs      RunStore
	publisher Publisher
	features  *storage.FeatureStore
	opts      Options
	workerSem chan struct{}
	wg        sync.WaitGroup
}

func NewService(runs RunStore, publisher Publisher, features *storage.FeatureStore, opts Options, maxConcurrentRuns int) *Service {
	if maxConcurrentRuns <= 0 {
		maxConcurrentRuns = 1
	}
	return &Service{
		runs:      runs,
		publisher: publisher,
		features:  features,
		opts:      opts,
		workerSem: make(chan struct{}, maxConcurrentRuns),
	}
}

// Create records a queued run and starts it in the background.
func (s *Service) Create(ctx context.Context, req models.PreprocessRequest) (models.PreprocessRun, error) {
	run, err := s.newRun(req)
	if err != nil {
		return models.PreprocessRun{}, err
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return models.PreprocessRun{}, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.Background(), run)
	}()
	return toDomain(run), nil
}

// Wait blocks until every started run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.PreprocessRun, error) {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return models.PreprocessRun{}, err
	}
	return toDomain(run), nil
}

func (s *Service) List(ctx context.Context, limit int) ([]models.PreprocessRun, error) {
	runs, err := s.runs.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	results := make([]models.PreprocessRun, 0, len(runs))
	for i := range runs {
		results = append(results, toDomain(&runs[i]))
	}
	return results, nil
}

// HandleEvent starts a run for every ehr.preprocess.requested event and
// ignores other event types.
func (s *Service) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != EventRequested {
		return nil
	}
	req, err := requestFromEvent(event.Data)
	if err != nil {
		return err
	}
	run, err := s.Create(ctx, req)
	if err != nil {
		return err
	}
	logger.Log.WithFields(map[string]interface{}{
		"event_id": event.ID,
		"run_id":   run.ID,
	}).Info("Preprocess run requested from event")
	return nil
}

func (s *Service) newRun(req models.PreprocessRequest) (*RunModel, error) {
	if req.DataPath == "" {
		req.DataPath = s.opts.DataPath
	}
	if req.VocabPath == "" {
		req.VocabPath = s.opts.VocabPath
	}
	if req.Workers <= 0 {
		req.Workers = s.opts.Workers
	}
	if req.DataPath == "" {
		return nil, fmt.Errorf("%w: data_path is required", ErrInvalidRequest)
	}
	w := window(req)
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	now := time.Now().UTC()
	return &RunModel{
		ID:             uuid.New(),
		DataPath:       req.DataPath,
		VocabPath:      req.VocabPath,
		AgeStart:       w.Start,
		AgeStop:        w.Stop,
		AgeUnit:        string(w.Unit),
		Workers:        req.Workers,
		DeleteExisting: req.DeleteExisting,
		Status:         StatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *Service) run(ctx context.Context, run *RunModel) {
	s.workerSem <- struct{}{}
	defer func() { <-s.workerSem }()

	obsmetrics.RunStarted()
	start := time.Now().UTC()
	if err := s.runs.UpdateStatus(ctx, run.ID, StatusRunning, nil, ""); err != nil {
		logger.Log.WithError(err).Error("failed to mark run running")
	}
	if err := s.runs.SetTimestamps(ctx, run.ID, &start, nil); err != nil {
		logger.Log.WithError(err).Error("failed to set start timestamp")
	}

	w := records.AgeWindow{Start: run.AgeStart, Stop: run.AgeStop, Unit: records.AgeUnit(run.AgeUnit)}
	pool := patient.PoolConfig{Workers: run.Workers, Verbose: s.opts.Verbose}
	results, err := CreateAllPatientLists(ctx, run.DataPath, run.VocabPath, w, pool, run.DeleteExisting, s.features)
	obsmetrics.RunFinished(err)
	if err != nil {
		s.failRun(ctx, run, err)
		return
	}

	counts := Summary(results)
	if err := s.runs.UpdateStatus(ctx, run.ID, StatusCompleted, counts, ""); err != nil {
		logger.Log.WithError(err).Error("failed to mark run complete")
	}
	completed := time.Now().UTC()
	if err := s.runs.SetTimestamps(ctx, run.ID, nil, &completed); err != nil {
		logger.Log.WithError(err).Error("failed to set completion timestamp")
	}

	s.publish(ctx, EventCompleted, map[string]interface{}{
		"run_id":    run.ID.String(),
		"data_path": run.DataPath,
		"window":    w.String(),
		"counts":    counts,
	})
	logger.Log.WithFields(map[string]interface{}{
		"run_id":   run.ID,
		"patients": counts["total"],
		"duration": time.Since(start).Seconds(),
	}).Info("Preprocess run completed")
}

func (s *Service) failRun(ctx context.Context, run *RunModel, err error) {
	logger.Log.WithError(err).WithField("run_id", run.ID).Error("preprocess run failed")
	_ = s.runs.UpdateStatus(ctx, run.ID, StatusFailed, nil, err.Error())
	completed := time.Now().UTC()
	_ = s.runs.SetTimestamps(ctx, run.ID, nil, &completed)
	s.publish(ctx, EventFailed, map[string]interface{}{
		"run_id":    run.ID.String(),
		"data_path": run.DataPath,
		"error":     err.Error(),
	})
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Error("failed to publish run event")
	}
}

func window(req models.PreprocessRequest) records.AgeWindow {
	unit := records.Years
	if req.AgeInMonths {
		unit = records.Months
	}
	return records.AgeWindow{Start: req.AgeStart, Stop: req.AgeStop, Unit: unit}
}

func requestFromEvent(data map[string]interface{}) (models.PreprocessRequest, error) {
	var req models.PreprocessRequest
	str := func(key string) string {
		v, _ := data[key].(string)
		return v
	}
	num := func(key string) (int, error) {
		switch v := data[key].(type) {
		case nil:
			return 0, nil
		case float64:
			return int(v), nil
		case int:
			return v, nil
		default:
			return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidRequest, key)
		}
	}
	var err error
	req.DataPath = str("data_path")
	req.VocabPath = str("vocab_path")
	if req.AgeStart, err = num("age_start"); err != nil {
		return req, err
	}
	if req.AgeStop, err = num("age_stop"); err != nil {
		return req, err
	}
	if req.Workers, err = num("workers"); err != nil {
		return req, err
	}
	req.AgeInMonths, _ = data["age_in_months"].(bool)
	req.DeleteExisting, _ = data["delete_existing"].(bool)
	return req, nil
}

func toDomain(run *RunModel) models.PreprocessRun {
	result := models.PreprocessRun{
		ID:           run.ID,
		DataPath:     run.DataPath,
		Window:       records.AgeWindow{Start: run.AgeStart, Stop: run.AgeStop, Unit: records.AgeUnit(run.AgeUnit)}.String(),
		Status:       run.Status,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
	if run.Counts != nil {
		result.Counts = map[string]interface{}(run.Counts)
	}
	return result
}
