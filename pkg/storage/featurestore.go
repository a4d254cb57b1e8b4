package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
	"github.com/synaptica-ai/ehrdata/pkg/common/models"
	"github.com/synaptica-ai/ehrdata/pkg/patient"
)

var ErrFeaturesNotFound = errors.New("patient features not cached")

// FeatureStore caches per-patient online features (demographics, normalized
// age and condition labels) in Redis. A nil client turns every write into a
// no-op.
type FeatureStore struct {
	client   redis.Cmdable
	cacheTTL time.Duration
}

func NewFeatureStore(client redis.Cmdable, cacheTTL time.Duration) *FeatureStore {
	return &FeatureStore{client: client, cacheTTL: cacheTTL}
}

func FeatureKey(patientID string) string {
	return fmt.Sprintf("features:%s", patientID)
}

// BuildFeatures projects a preprocessed patient onto its online features.
func BuildFeatures(p *patient.Patient, window string) models.PatientFeatures {
	conditions := make(map[string]int, len(p.Conditions))
	for k, v := range p.Conditions {
		conditions[k] = v
	}
	return models.PatientFeatures{
		PatientID:    p.PatientID,
		Demographics: append([]int64(nil), p.Demographics...),
		AgeNow:       p.AgeNow,
		Conditions:   conditions,
		Window:       window,
		CachedAt:     time.Now().UTC(),
	}
}

func (f *FeatureStore) MaterializePatient(ctx context.Context, p *patient.Patient, window string) error {
	if f.client == nil {
		return nil
	}
	data, err := json.Marshal(BuildFeatures(p, window))
	if err != nil {
		return err
	}
	return f.client.Set(ctx, FeatureKey(p.PatientID), data, f.cacheTTL).Err()
}

// MaterializeList writes every patient of list in one pipeline.
func (f *FeatureStore) MaterializeList(ctx context.Context, list *patient.List) (int, error) {
	if f.client == nil || list.Len() == 0 {
		return 0, nil
	}
	window := list.Window.String()
	pipe := f.client.Pipeline()
	for _, p := range list.Items {
		data, err := json.Marshal(BuildFeatures(p, window))
		if err != nil {
			return 0, err
		}
		pipe.Set(ctx, FeatureKey(p.PatientID), data, f.cacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("materialize %d patients: %w", list.Len(), err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"split":    list.Split,
		"modality": list.Modality,
		"patients": list.Len(),
	}).Info("Materialized patient features to cache")
	return list.Len(), nil
}

func (f *FeatureStore) GetPatientFeatures(ctx context.Context, patientID string) (models.PatientFeatures, error) {
	if f.client == nil {
		return models.PatientFeatures{}, ErrFeaturesNotFound
	}
	data, err := f.client.Get(ctx, FeatureKey(patientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.PatientFeatures{}, ErrFeaturesNotFound
	}
	if err != nil {
		return models.PatientFeatures{}, err
	}
	var features models.PatientFeatures
	if err := json.Unmarshal(data, &features); err != nil {
		return models.PatientFeatures{}, fmt.Errorf("decode features for %s: %w", patientID, err)
	}
	return features, nil
}
