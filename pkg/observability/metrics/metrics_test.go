package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWritePrometheusReportsCounters(t *testing.T) {
	RunStarted()
	RunFinished(nil)
	RunStarted()
	RunFinished(errors.New("boom"))
	ObservePatients(7)

	rec := httptest.NewRecorder()
	WritePrometheus(rec)
	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE ehrdata_preprocess_runs_completed_total counter",
		"ehrdata_preprocess_runs_active 0",
		"ehrdata_preprocess_patients_total 7",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in output:\n%s", want, body)
		}
	}
}
