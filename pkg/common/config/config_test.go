package config

import (
	"testing"

	"github.com/synaptica-ai/ehrdata/pkg/records"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("AGE_STOP", "6")
	t.Setenv("AGE_IN_MONTHS", "true")
	t.Setenv("LABELS", "diabetes, stroke")
	t.Setenv("MRI_SHAPE", "2,3")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	w := cfg.Window()
	if w.Start != 0 || w.Stop != 6 || w.Unit != records.Months {
		t.Fatalf("unexpected window %+v", w)
	}
	if len(cfg.Labels) != 2 || cfg.Labels[1] != "stroke" {
		t.Fatalf("unexpected labels %v", cfg.Labels)
	}
	if len(cfg.MRIShape) != 2 || cfg.MRIShape[1] != 3 {
		t.Fatalf("unexpected mri shape %v", cfg.MRIShape)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.EffectiveVocabPath() != cfg.DataPath {
		t.Fatalf("vocab path should fall back to data path")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadRejectsBadShape(t *testing.T) {
	t.Setenv("ECG_SHAPE", "5,x")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid ECG_SHAPE to fail")
	}
}

func TestValidateWindow(t *testing.T) {
	cfg := &Config{AgeStart: 4, AgeStop: 2, BatchSize: 1, DataPath: "d", Labels: []string{"a"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected inverted window to fail")
	}
}
