package preprocess

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event types on the preprocessing topics.
const (
	EventRequested = "ehr.preprocess.requested"
	EventCompleted = "ehr.preprocess.completed"
	EventFailed    = "ehr.preprocess.failed"

	eventSource = "preprocess-service"
)

type RunModel struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	DataPath       string            `gorm:"column:data_path"`
	VocabPath      string            `gorm:"column:vocab_path"`
	AgeStart       int               `gorm:"column:age_start"`
	AgeStop        int               `gorm:"column:age_stop"`
	AgeUnit        string            `gorm:"column:age_unit"`
	Workers        int               `gorm:"column:workers"`
	DeleteExisting bool              `gorm:"column:delete_existing"`
	Status         string            `gorm:"column:status"`
	Counts         datatypes.JSONMap `gorm:"column:counts"`
	ErrorMessage   string            `gorm:"column:error_message"`
	CreatedAt      time.Time         `gorm:"column:created_at"`
	UpdatedAt      time.Time         `gorm:"column:updated_at"`
	StartedAt      *time.Time        `gorm:"column:started_at"`
	CompletedAt    *time.Time        `gorm:"column:completed_at"`
}

func (RunModel) TableName() string {
	return "preprocess_runs"
}

// GroupResult is the outcome of preprocessing one split and modality group.
type GroupResult struct {
	Split    string `json:"split"`
	Modality int    `json:"modality"`
	Patients int    `json:"patients"`
	Features int    `json:"features,omitempty"`
}

// Summary totals group results per split plus "total".
func Summary(results []GroupResult) map[string]interface{} {
	counts := map[string]interface{}{}
	total := 0
	for _, r := range results {
		n, _ := counts[r.Split].(int)
		counts[r.Split] = n + r.Patients
		total += r.Patients
	}
	counts["total"] = total
	return counts
}
