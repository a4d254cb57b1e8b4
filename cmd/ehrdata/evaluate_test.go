package main

import (
	"math"
	"strings"
	"testing"

	"github.com/synaptica-ai/ehrdata/pkg/metrics"
)

const predictionsCSV = `patient,diabetes,diabetes_score,stroke,stroke_score
p1,0,0.1,0,0.2
p2,0,0.4,0,0.3
p3,1,0.35,0,0.1
p4,1,0.8,0,0.6
`

func TestReadPredictionsDetectsLabels(t *testing.T) {
	y, yhat, labels, err := readPredictions(strings.NewReader(predictionsCSV), nil)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(labels) != 2 || labels[0] != "diabetes" || labels[1] != "stroke" {
		t.Fatalf("unexpected labels %v", labels)
	}
	if r, c := y.Dims(); r != 4 || c != 2 {
		t.Fatalf("unexpected dims %dx%d", r, c)
	}
	if yhat.At(2, 0) != 0.35 || y.At(3, 0) != 1 {
		t.Fatalf("unexpected values %v %v", yhat.At(2, 0), y.At(3, 0))
	}
}

func TestReadPredictionsMissingScoreColumn(t *testing.T) {
	_, _, _, err := readPredictions(strings.NewReader(predictionsCSV), []string{"epilepsy"})
	if err == nil || !strings.Contains(err.Error(), "epilepsy") {
		t.Fatalf("expected missing column error, got %v", err)
	}
}

func TestEvaluateSkipsSingleClassLabels(t *testing.T) {
	y, yhat, labels, err := readPredictions(strings.NewReader(predictionsCSV), nil)
	if err != nil {
		t.Fatal(err)
	}
	report, err := Evaluate(y, yhat, labels, 0.5, metrics.BootstrapConfig{Resamples: 50, Seed: 1})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	d := report.Labels["diabetes"]
	if math.Abs(d.AUROC-0.75) > 1e-9 {
		t.Fatalf("expected diabetes AUROC 0.75, got %v", d.AUROC)
	}
	if d.Accuracy != 0.75 || d.NullAccuracy != 0.5 {
		t.Fatalf("unexpected accuracy %+v", d)
	}
	if d.CI[0] > d.CI[1] {
		t.Fatalf("interval out of order %v", d.CI)
	}
	if s := report.Labels["stroke"]; s.Error == "" {
		t.Fatalf("expected stroke to report a single-class error, got %+v", s)
	}
	if report.MacroAUROC != d.AUROC {
		t.Fatalf("macro should average scorable labels only, got %v", report.MacroAUROC)
	}
}

func TestPreprocessDeletesExistingByDefault(t *testing.T) {
	v, err := preprocessCmd().Flags().GetBool("delete-existing")
	if err != nil || !v {
		t.Fatalf("expected --delete-existing to default to true, got %v (%v)", v, err)
	}
}
