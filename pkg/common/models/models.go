package models

import (
	"time"

	"github.com/google/uuid"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // ehr.preprocess.requested, ehr.preprocess.completed, ehr.preprocess.failed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Preprocessing
type PreprocessRequest struct {
	DataPath       string `json:"data_path,omitempty"`
	VocabPath      string `json:"vocab_path,omitempty"`
	AgeStart       int    `json:"age_start"`
	AgeStop        int    `json:"age_stop"`
	AgeInMonths    bool   `json:"age_in_months"`
	Workers        int    `json:"workers,omitempty"`
	DeleteExisting bool   `json:"delete_existing"`
}

type PreprocessRun struct {
	ID           uuid.UUID              `json:"id"`
	DataPath     string                 `json:"data_path"`
	Window       string                 `json:"window"`
	Status       string                 `json:"status"`
	Counts       map[string]interface{} `json:"counts,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// Dataset summaries
type DatasetStats struct {
	DataPath    string                    `json:"data_path"`
	Window      string                    `json:"window"`
	Lengths     map[string]int            `json:"lengths"`
	LabelCounts map[string]map[string]int `json:"label_counts"`
	PosWeights  map[string][]float64      `json:"pos_weights"`
}

// Feature Store
type PatientFeatures struct {
	PatientID    string         `json:"patient_id"`
	Demographics []int64        `json:"demographics"`
	AgeNow       float32        `json:"age_now"`
	Conditions   map[string]int `json:"conditions"`
	Window       string         `json:"window"`
	CachedAt     time.Time      `json:"cached_at"`
}
