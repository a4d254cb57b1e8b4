package patient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/synaptica-ai/ehrdata/pkg/records"
	"github.com/synaptica-ai/ehrdata/pkg/vocab"
)

var testWindow = records.AgeWindow{Start: 0, Stop: 5, Unit: records.Years}

func testVocabs() records.VocabList {
	var list records.VocabList
	for rt := range list.Records {
		list.Records[rt] = vocab.New([]string{"xxunk", records.NoneToken, "c1", "c2"}, "xxunk")
	}
	for f := range list.Demographics {
		list.Demographics[f] = vocab.New([]string{"xxunk", records.NoneToken}, "xxunk")
	}
	list.AgeMean, list.AgeStd = 50, 10
	return list
}

func testTables(split string, modality, n int) records.Tables {
	tables := records.Tables{
		Split:        split,
		Modality:     modality,
		Demographics: map[string]records.DemographicsRow{},
	}
	for rt := range tables.Events {
		tables.Events[rt] = records.EventTable{}
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("pt-%03d", i)
		tables.Patients = append(tables.Patients, records.PatientRow{
			PatientID:  id,
			Birthdate:  "1970-01-01",
			Conditions: map[string]int{"diabetes": i % 2, "stroke": 0},
		})
		// every third patient has no demographics row
		if i%3 != 0 {
			tables.Demographics[id] = records.DemographicsRow{Birthdate: "1970-01-01", Gender: "F", Age: 60}
		}
		if i%2 == 0 {
			tables.Events[records.Conditions][id] = []records.Event{{Code: "c1", Age: 1}, {Code: "c2", Age: 3}}
		}
	}
	return tables
}

func TestCreateNumericalizesAllRecordTypes(t *testing.T) {
	var events [records.NumRecordTypes][]records.Event
	events[records.Medications] = []records.Event{{Code: "c2", Age: 2}}
	row := records.PatientRow{PatientID: "p1", Conditions: map[string]int{"stroke": 1}}
	p, err := Create(events, records.DemographicsRow{Age: 70}, testVocabs(), row, testWindow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for rt := range p.Offsets {
		if len(p.Offsets[rt]) != testWindow.Span() {
			t.Fatalf("record %d: expected %d offsets, got %d", rt, testWindow.Span(), len(p.Offsets[rt]))
		}
	}
	if got := p.Codes[records.Medications][2]; got != 3 {
		t.Fatalf("expected medication code index 3 at age 2, got %d", got)
	}
	if len(p.Demographics) != records.NumDemographicFields {
		t.Fatalf("expected %d demographic values, got %d", records.NumDemographicFields, len(p.Demographics))
	}
	if p.AgeNow != 2 {
		t.Fatalf("expected normalized age 2, got %v", p.AgeNow)
	}
	if p.Device != CPU {
		t.Fatalf("expected new patient on cpu, got %s", p.Device)
	}
}

func TestToDeviceIsIdempotent(t *testing.T) {
	p := &Patient{PatientID: "p1", Demographics: []int64{1, 2}, Device: CPU}
	if p.ToDevice(CPU) != p {
		t.Fatal("expected same patient when already on device")
	}
	moved := p.ToDevice("cuda:0")
	if moved == p {
		t.Fatal("expected a copy when changing device")
	}
	if moved.Device != "cuda:0" || p.Device != CPU {
		t.Fatalf("unexpected devices: moved=%s original=%s", moved.Device, p.Device)
	}
	moved.Demographics[0] = 99
	if p.Demographics[0] != 1 {
		t.Fatal("device copy shares buffers with the original")
	}
	if moved.ToDevice("cuda:0") != moved {
		t.Fatal("expected repeated placement to be a no-op")
	}
}

func TestListIndexing(t *testing.T) {
	l := &List{}
	for i := 0; i < 4; i++ {
		l.Items = append(l.Items, &Patient{PatientID: fmt.Sprint(i)})
	}
	if l.At(2).PatientID != "2" {
		t.Fatalf("unexpected item %s", l.At(2).PatientID)
	}
	if got := l.Slice(1, 3); len(got) != 2 || got[0].PatientID != "1" {
		t.Fatalf("unexpected slice %v", got)
	}
	if got := l.Select([]int{3, 0}); got[0].PatientID != "3" || got[1].PatientID != "0" {
		t.Fatalf("unexpected selection %v", got)
	}
	masked, err := l.Mask([]bool{true, false, false, true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(masked) != 2 || masked[1].PatientID != "3" {
		t.Fatalf("unexpected masked items %v", masked)
	}
	if _, err := l.Mask([]bool{true}); !errors.Is(err, ErrMaskLength) {
		t.Fatalf("expected ErrMaskLength, got %v", err)
	}
}

func TestChunkIndices(t *testing.T) {
	cases := []struct {
		total, workers int
		want           []chunk
	}{
		{total: 10, workers: 4, want: []chunk{{0, 2}, {3, 5}, {6, 8}, {9, 9}}},
		{total: 9, workers: 4, want: []chunk{{0, 2}, {3, 5}, {6, 8}}},
		{total: 2, workers: 8, want: []chunk{{0, 0}, {1, 1}}},
		{total: 5, workers: 1, want: []chunk{{0, 4}}},
		{total: 0, workers: 4, want: nil},
	}
	for _, tc := range cases {
		got := chunkIndices(tc.total, tc.workers)
		if fmt.Sprint(got) != fmt.Sprint(tc.want) {
			t.Fatalf("total=%d workers=%d: expected %v, got %v", tc.total, tc.workers, tc.want, got)
		}
	}
}

func TestCreateSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tables := testTables("train", 10, 23)

	n, err := CreateSave(context.Background(), tables, testVocabs(), dir, testWindow, PoolConfig{Workers: 4})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if n != 23 {
		t.Fatalf("expected 23 patients, got %d", n)
	}

	list, err := Load(dir, "train", 10, testWindow)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if list.Len() != 23 {
		t.Fatalf("expected 23 loaded patients, got %d", list.Len())
	}

	var got, want []string
	for _, p := range list.Items {
		got = append(got, p.PatientID)
	}
	for _, row := range tables.Patients {
		want = append(want, row.PatientID)
	}
	sort.Strings(got)
	sort.Strings(want)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("patient ids differ:\n got %v\nwant %v", got, want)
	}

	mods, err := Modalities(dir, "train", testWindow)
	if err != nil || len(mods) != 1 || mods[0] != 10 {
		t.Fatalf("expected modality [10], got %v (err %v)", mods, err)
	}
}

func TestCreateSaveRerunReplacesManifest(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	if _, err := CreateSave(ctx, testTables("valid", 0, 6), testVocabs(), dir, testWindow, PoolConfig{Workers: 2}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	target := Dir(dir, "valid", 0, testWindow)
	if err := DeleteChunks(target); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := CreateSave(ctx, testTables("valid", 0, 4), testVocabs(), dir, testWindow, PoolConfig{Workers: 3}); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	list, err := Load(dir, "valid", 0, testWindow)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if list.Len() != 4 {
		t.Fatalf("expected 4 patients after rerun, got %d", list.Len())
	}
}

func TestCreateSaveRerunWithoutDeleteDropsStaleChunks(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	if _, err := CreateSave(ctx, testTables("valid", 0, 6), testVocabs(), dir, testWindow, PoolConfig{Workers: 2}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	n, err := CreateSave(ctx, testTables("valid", 0, 4), testVocabs(), dir, testWindow, PoolConfig{Workers: 3})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	list, err := Load(dir, "valid", 0, testWindow)
	if err != nil {
		t.Fatalf("rerun wrote %d patients but load failed: %v", n, err)
	}
	if list.Len() != 4 {
		t.Fatalf("expected 4 patients after rerun, got %d", list.Len())
	}

	manifest, err := readManifest(Dir(dir, "valid", 0, testWindow))
	if err != nil {
		t.Fatal(err)
	}
	files, _ := filepath.Glob(filepath.Join(Dir(dir, "valid", 0, testWindow), "*"+chunkExt))
	if len(files) != len(manifest.Chunks) {
		t.Fatalf("expected only the %d manifest chunks on disk, found %d", len(manifest.Chunks), len(files))
	}
}

func TestLoadNotPreprocessed(t *testing.T) {
	_, err := Load(t.TempDir(), "test", 0, testWindow)
	if !errors.Is(err, ErrNotPreprocessed) {
		t.Fatalf("expected ErrNotPreprocessed, got %v", err)
	}
}

func TestLoadRejectsIncompleteDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := CreateSave(context.Background(), testTables("test", 1, 5), testVocabs(), dir, testWindow, PoolConfig{Workers: 3}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	target := Dir(dir, "test", 1, testWindow)
	files, _ := filepath.Glob(filepath.Join(target, "*"+chunkExt))
	if len(files) < 2 {
		t.Fatalf("expected several chunk files, got %d", len(files))
	}
	if err := os.Remove(files[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir, "test", 1, testWindow); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}

	if err := os.Remove(filepath.Join(target, manifestName)); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir, "test", 1, testWindow); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete without manifest, got %v", err)
	}
}
