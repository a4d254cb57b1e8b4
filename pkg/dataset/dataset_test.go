package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/synaptica-ai/ehrdata/pkg/patient"
	"github.com/synaptica-ai/ehrdata/pkg/records"
	"github.com/synaptica-ai/ehrdata/pkg/vocab"
)

var testWindow = records.AgeWindow{Start: 0, Stop: 3, Unit: records.Years}

func makeList(prefix string, n int) *patient.List {
	l := &patient.List{Window: testWindow}
	for i := 0; i < n; i++ {
		l.Items = append(l.Items, &patient.Patient{
			PatientID:  fmt.Sprintf("%s-%d", prefix, i),
			Conditions: map[string]int{"diabetes": i % 2},
			Device:     patient.CPU,
		})
	}
	return l
}

func writeAuxFiles(t *testing.T, dir string, ids []string) {
	t.Helper()
	for _, sub := range []string{"dicom", "dna"} {
		if err := os.MkdirAll(filepath.Join(dir, "output", sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	ecg := []string{"patient,lead"}
	for _, id := range ids {
		if err := os.WriteFile(filepath.Join(dir, "output", "dicom", id+".dcm"), nil, 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "output", "dna", id+".vcf"), nil, 0o644); err != nil {
			t.Fatal(err)
		}
		// two ECG rows per patient are allowed
		ecg = append(ecg, id+",I", id+",II")
	}
	if err := os.WriteFile(filepath.Join(dir, "ecg.csv"), []byte(strings.Join(ecg, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestModalityTypeAuxiliary(t *testing.T) {
	cases := map[int]string{0: "", 1: "mri", 10: "dna", 11: "mri,dna", 20: "ecg", 21: "mri,ecg", 30: "dna,ecg", 31: "mri,dna,ecg"}
	for code, want := range cases {
		m, err := ParseModalityType(code)
		if err != nil {
			t.Fatalf("code %d: unexpected error %v", code, err)
		}
		if m.Code() != code {
			t.Fatalf("code %d round-tripped to %d", code, m.Code())
		}
		aux, _ := m.Auxiliary()
		names := make([]string, len(aux))
		for i, a := range aux {
			names[i] = string(a)
		}
		if got := strings.Join(names, ","); got != want {
			t.Fatalf("code %d: expected %q, got %q", code, want, got)
		}
	}
	if _, err := ParseModalityType(2); !errors.Is(err, ErrUnrecognizedModality) {
		t.Fatalf("expected ErrUnrecognizedModality, got %v", err)
	}
	if _, err := ModalityType(99).Auxiliary(); !errors.Is(err, ErrUnrecognizedModality) {
		t.Fatalf("expected ErrUnrecognizedModality, got %v", err)
	}
}

func TestModalityErrorsNameTheCode(t *testing.T) {
	for _, code := range []int{2, 12, 276, -1} {
		_, err := ParseModalityType(code)
		if !errors.Is(err, ErrUnrecognizedModality) {
			t.Fatalf("code %d: expected ErrUnrecognizedModality, got %v", code, err)
		}
		if !strings.HasSuffix(err.Error(), fmt.Sprintf(": %d", code)) {
			t.Fatalf("code %d: error does not name the code: %v", code, err)
		}
	}
	_, err := ModalityType(12).Auxiliary()
	if err == nil || !strings.HasSuffix(err.Error(), ": 12") {
		t.Fatalf("expected error naming 12, got %v", err)
	}
	if EHRWithDNAECG.Code() != 30 || ModalityType(12).Code() != -1 {
		t.Fatalf("unexpected codes %d %d", EHRWithDNAECG.Code(), ModalityType(12).Code())
	}

	a := NewEHRDataset(makeList("a", 1), []string{"diabetes"}, EHROnly, EHROptions{})
	b := NewEHRDataset(makeList("b", 1), []string{"diabetes"}, EHRWithECG, EHROptions{})
	ia, _ := a.Item(0)
	ib, _ := b.Item(0)
	_, err = Collate([]Item{ia, ib})
	if err == nil || !strings.Contains(err.Error(), "0 and 20") {
		t.Fatalf("expected mixed modality error naming codes 0 and 20, got %v", err)
	}
}

func TestPosWeightsRoundHalfToEven(t *testing.T) {
	train := &patient.List{Window: testWindow}
	for i := 0; i < 7; i++ {
		train.Items = append(train.Items, &patient.Patient{
			PatientID:  fmt.Sprintf("t-%d", i),
			Conditions: map[string]int{"stroke": boolInt(i < 2), "diabetes": boolInt(i < 4)},
		})
	}
	splits := &DataSplits{
		Lists:      map[string][]*patient.List{"train": {train}},
		Modalities: map[string][]ModalityType{"train": {EHROnly}},
	}
	w := splits.PosWeights([]string{"stroke", "diabetes"})
	// 5/2 = 2.5 rounds to 2, 3/4 = 0.75 rounds to 1
	if got := w["train"]; got[0] != 2 || got[1] != 1 {
		t.Fatalf("unexpected train weights %v", got)
	}
	if got := w["valid"]; got[0] != 0 || got[1] != 0 {
		t.Fatalf("expected zero weights without positives, got %v", got)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestSamplerKeepsGroupsHomogeneous(t *testing.T) {
	datasets := []Dataset{
		NewEHRDataset(makeList("a", 5), []string{"diabetes"}, EHROnly, EHROptions{}),
		NewEHRDataset(makeList("b", 3), []string{"diabetes"}, EHRWithMRI, EHROptions{}),
	}
	concat, sampler := NewModalitySampledDataset(datasets, 2, true, 7)
	if concat.Len() != 8 {
		t.Fatalf("expected 8 items, got %d", concat.Len())
	}
	if sampler.Len() != 5 {
		t.Fatalf("expected 3+2 batches, got %d", sampler.Len())
	}

	for epoch := 0; epoch < 3; epoch++ {
		seen := map[int]bool{}
		short := 0
		for _, batch := range sampler.Batches() {
			if len(batch) < 2 {
				short++
			}
			group := batch[0] >= 5
			for _, idx := range batch {
				if (idx >= 5) != group {
					t.Fatalf("batch %v crosses modality groups", batch)
				}
				if seen[idx] {
					t.Fatalf("index %d yielded twice", idx)
				}
				seen[idx] = true
			}
		}
		if len(seen) != 8 {
			t.Fatalf("epoch %d covered %d indices", epoch, len(seen))
		}
		if short != 2 {
			t.Fatalf("expected the short final batch of each group to be kept, got %d short", short)
		}
	}
}

func TestSamplerWithoutShuffleIsSequential(t *testing.T) {
	s := NewModalityBatchSampler([][]int{{0, 1, 2}, {3, 4}}, 2, false, 0)
	if got := fmt.Sprint(s.Batches()); got != "[[0 1] [2] [3 4]]" {
		t.Fatalf("unexpected batches %s", got)
	}
}

func TestConcatDatasetRanges(t *testing.T) {
	c := NewConcatDataset([]Dataset{
		NewEHRDataset(makeList("a", 2), nil, EHROnly, EHROptions{}),
		NewEHRDataset(makeList("b", 0), nil, EHRWithDNA, EHROptions{}),
		NewEHRDataset(makeList("c", 3), nil, EHRWithECG, EHROptions{}),
	})
	if got := fmt.Sprint(c.CumulativeSizes()); got != "[2 2 5]" {
		t.Fatalf("unexpected cumulative sizes %s", got)
	}
	it, err := c.Item(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.EHR.Patient.PatientID != "c-0" || it.EHR.Modality != EHRWithECG {
		t.Fatalf("unexpected item %s/%s", it.EHR.Patient.PatientID, it.EHR.Modality)
	}
	if _, err := c.Item(5); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestLazyDatasetReturnsOwnedCopies(t *testing.T) {
	list := makeList("a", 2)
	d := NewEHRDataset(list, []string{"diabetes"}, EHROnly, EHROptions{LazyLoadDevice: true, Device: "cuda:0"})
	it := d.EHR(1)
	if it.Patient == list.At(1) {
		t.Fatal("expected a copy in lazy mode")
	}
	if it.Patient.Device != "cuda:0" || list.At(1).Device != patient.CPU {
		t.Fatalf("unexpected devices %s / %s", it.Patient.Device, list.At(1).Device)
	}
	if it.Y[0] != 1 {
		t.Fatalf("expected label 1, got %v", it.Y[0])
	}

	eager := NewEHRDataset(list, []string{"diabetes"}, EHROnly, EHROptions{})
	if eager.EHR(0).Patient != list.At(0) {
		t.Fatal("expected shared patient in eager mode on the same device")
	}
}

func TestCollateAllModalities(t *testing.T) {
	dir := t.TempDir()
	list := makeList("p", 3)
	var ids []string
	for _, p := range list.Items {
		ids = append(ids, p.PatientID)
	}
	writeAuxFiles(t, dir, ids)

	ecg, err := NewECGSource(dir, []int{2, 4})
	if err != nil {
		t.Fatalf("ecg source: %v", err)
	}
	ehr := NewEHRDataset(list, []string{"diabetes"}, EHRWithMRIDNAECG, EHROptions{})
	ds := NewMultimodalDataset(ehr, NewMRISource(dir, []int{1, 2, 2}), NewDNASource(dir, []int{3}), ecg)

	items := make([]Item, ds.Len())
	for i := range items {
		if items[i], err = ds.Item(i); err != nil {
			t.Fatalf("item %d: %v", i, err)
		}
	}
	b, err := Collate(items)
	if err != nil {
		t.Fatalf("collate: %v", err)
	}
	if got := strings.Join(b.Keys(), ","); got != "patients,ys,mri,dna,ecg" {
		t.Fatalf("unexpected keys %s", got)
	}
	if fmt.Sprint(b.MRI.Shape) != "[3 1 2 2]" || fmt.Sprint(b.DNA.Shape) != "[3 3]" || fmt.Sprint(b.ECG.Shape) != "[3 2 4]" {
		t.Fatalf("unexpected shapes %v %v %v", b.MRI.Shape, b.DNA.Shape, b.ECG.Shape)
	}
	if b.MRI.Data[0] != 1 || b.DNA.Data[0] != 10 || b.ECG.Data[0] != 20 {
		t.Fatalf("unexpected fill values")
	}
	if r, c := b.Ys.Dims(); r != 3 || c != 1 {
		t.Fatalf("unexpected label dims %dx%d", r, c)
	}
	if len(b.Patients) != 3 || b.Patients[2].PatientID != "p-2" {
		t.Fatalf("unexpected patients %v", b.Patients)
	}
}

func TestCollateRejectsMixedModalities(t *testing.T) {
	a := NewEHRDataset(makeList("a", 1), []string{"diabetes"}, EHROnly, EHROptions{})
	b := NewEHRDataset(makeList("b", 1), []string{"diabetes"}, EHRWithMRI, EHROptions{})
	ia, _ := a.Item(0)
	ib, _ := b.Item(0)
	if _, err := Collate([]Item{ia, ib}); !errors.Is(err, ErrMixedModality) {
		t.Fatalf("expected ErrMixedModality, got %v", err)
	}
}

func TestFileSourceLookupErrors(t *testing.T) {
	dir := t.TempDir()
	writeAuxFiles(t, dir, []string{"dup"})
	if err := os.WriteFile(filepath.Join(dir, "output", "dicom", "dup-2.dcm"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	mri := NewMRISource(dir, []int{1})
	if _, err := mri.Get("dup"); !errors.Is(err, ErrModalityLookup) {
		t.Fatalf("expected lookup error for two matches, got %v", err)
	}
	if _, err := mri.Get("missing"); !errors.Is(err, ErrModalityLookup) {
		t.Fatalf("expected lookup error for zero matches, got %v", err)
	}
	ecg, err := NewECGSource(dir, []int{1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ecg.Get("dup"); err != nil {
		t.Fatalf("expected multi-row ECG patient to resolve, got %v", err)
	}
	if _, err := ecg.Get("missing"); !errors.Is(err, ErrModalityLookup) {
		t.Fatalf("expected lookup error for absent ECG patient, got %v", err)
	}
}

func TestLoaderPreservesSamplerOrder(t *testing.T) {
	ds := NewEHRDataset(makeList("a", 25), []string{"diabetes"}, EHROnly, EHROptions{})
	sampler := NewModalityBatchSampler([][]int{seq(25)}, 4, true, 3)
	loader := NewLoader(ds, sampler, 3)

	want := sampler.Batches()
	// rebuild the sampler with the same seed so the next epoch matches want
	loader.Sampler = NewModalityBatchSampler([][]int{seq(25)}, 4, true, 3)

	var got [][]string
	err := loader.Iterate(context.Background(), func(b *Batch) error {
		ids := make([]string, len(b.Patients))
		for i, p := range b.Patients {
			ids[i] = p.PatientID
		}
		got = append(got, ids)
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d batches, got %d", len(want), len(got))
	}
	for i, batch := range want {
		for j, idx := range batch {
			if got[i][j] != fmt.Sprintf("a-%d", idx) {
				t.Fatalf("batch %d differs: got %v want %v", i, got[i], batch)
			}
		}
	}
}

func TestLoaderStopsOnCallbackError(t *testing.T) {
	ds := NewEHRDataset(makeList("a", 10), []string{"diabetes"}, EHROnly, EHROptions{})
	loader := NewLoader(ds, NewModalityBatchSampler([][]int{seq(10)}, 1, false, 0), 4)
	stop := errors.New("stop")
	calls := 0
	err := loader.Iterate(context.Background(), func(*Batch) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || calls != 2 {
		t.Fatalf("expected stop after 2 calls, got %v after %d", err, calls)
	}
}

func testVocabs() records.VocabList {
	var list records.VocabList
	for rt := range list.Records {
		list.Records[rt] = vocab.New([]string{"xxunk", records.NoneToken}, "xxunk")
	}
	for f := range list.Demographics {
		list.Demographics[f] = vocab.New([]string{"xxunk", records.NoneToken}, "xxunk")
	}
	list.AgeStd = 1
	return list
}

func preprocessSplit(t *testing.T, dir, split string, code int, ids []string) {
	t.Helper()
	tables := records.Tables{Split: split, Modality: code, Demographics: map[string]records.DemographicsRow{}}
	for rt := range tables.Events {
		tables.Events[rt] = records.EventTable{}
	}
	for i, id := range ids {
		tables.Patients = append(tables.Patients, records.PatientRow{PatientID: id, Conditions: map[string]int{"diabetes": i % 2}})
		tables.Demographics[id] = records.DemographicsRow{}
	}
	if _, err := patient.CreateSave(context.Background(), tables, testVocabs(), dir, testWindow, patient.PoolConfig{Workers: 2}); err != nil {
		t.Fatalf("preprocess %s/%d: %v", split, code, err)
	}
}

func TestMultimodalEHRDataLoaders(t *testing.T) {
	dir := t.TempDir()
	var auxIDs []string
	for _, split := range Splits {
		var ehrOnly, full []string
		for i := 0; i < 3; i++ {
			ehrOnly = append(ehrOnly, fmt.Sprintf("%s-e%d", split, i))
			full = append(full, fmt.Sprintf("%s-m%d", split, i))
		}
		preprocessSplit(t, dir, split, 0, ehrOnly)
		preprocessSplit(t, dir, split, 31, full)
		auxIDs = append(auxIDs, full...)
	}
	writeAuxFiles(t, dir, auxIDs)

	data := &MultimodalEHRData{
		Path:     dir,
		Labels:   []string{"diabetes"},
		Window:   testWindow,
		MRIShape: []int{2},
		DNAShape: []int{2},
		ECGShape: []int{2},
		Seed:     1,
	}
	loaders, err := data.Loaders(2, 2)
	if err != nil {
		t.Fatalf("loaders: %v", err)
	}
	if got := data.Splits().Lengths(); got["total"] != 18 || got["train"] != 6 {
		t.Fatalf("unexpected lengths %v", got)
	}
	if got := data.Splits().LabelCounts([]string{"diabetes"})["diabetes"]["train"]; got != 2 {
		t.Fatalf("expected 2 positive train patients, got %d", got)
	}
	if got := data.Splits().PosWeights([]string{"diabetes"})["train"][0]; got != 2 {
		t.Fatalf("expected pos weight 2, got %v", got)
	}

	for _, split := range Splits {
		seen := 0
		err := loaders[split].Iterate(context.Background(), func(b *Batch) error {
			seen += len(b.Patients)
			if b.Modality == EHRWithMRIDNAECG && (b.MRI == nil || b.DNA == nil || b.ECG == nil) {
				return fmt.Errorf("batch of modality 31 is missing payloads: %v", b.Keys())
			}
			if b.Modality == EHROnly && len(b.Keys()) != 2 {
				return fmt.Errorf("ehr-only batch carries %v", b.Keys())
			}
			return nil
		})
		if err != nil {
			t.Fatalf("%s: %v", split, err)
		}
		if seen != 6 {
			t.Fatalf("%s: expected 6 patients, got %d", split, seen)
		}
	}
}

func TestLoadSplitsNotPreprocessed(t *testing.T) {
	_, err := LoadSplits(t.TempDir(), testWindow)
	if !errors.Is(err, patient.ErrNotPreprocessed) {
		t.Fatalf("expected ErrNotPreprocessed, got %v", err)
	}
}

func seq(n int) []int {
	return IndexRange{Lo: 0, Hi: n}.Indices()
}
