package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/synaptica-ai/ehrdata/pkg/patient"
)

func TestBuildFeaturesCopiesPatientData(t *testing.T) {
	p := &patient.Patient{
		PatientID:    "p1",
		Demographics: []int64{3, 4},
		AgeNow:       1.5,
		Conditions:   map[string]int{"stroke": 1},
	}
	f := BuildFeatures(p, "years_0_to_5")
	if f.PatientID != "p1" || f.AgeNow != 1.5 || f.Window != "years_0_to_5" {
		t.Fatalf("unexpected features %+v", f)
	}
	f.Demographics[0] = 99
	f.Conditions["stroke"] = 0
	if p.Demographics[0] != 3 || p.Conditions["stroke"] != 1 {
		t.Fatal("features share buffers with the patient")
	}
	if FeatureKey("p1") != "features:p1" {
		t.Fatalf("unexpected key %s", FeatureKey("p1"))
	}
}

func TestFeatureStoreWithoutRedis(t *testing.T) {
	fs := NewFeatureStore(nil, 0)
	ctx := context.Background()
	if err := fs.MaterializePatient(ctx, &patient.Patient{PatientID: "p1"}, "years_0_to_5"); err != nil {
		t.Fatalf("expected no-op write, got %v", err)
	}
	if n, err := fs.MaterializeList(ctx, &patient.List{Items: []*patient.Patient{{PatientID: "p1"}}}); err != nil || n != 0 {
		t.Fatalf("expected no-op list write, got %d (%v)", n, err)
	}
	if _, err := fs.GetPatientFeatures(ctx, "p1"); !errors.Is(err, ErrFeaturesNotFound) {
		t.Fatalf("expected ErrFeaturesNotFound, got %v", err)
	}
}
