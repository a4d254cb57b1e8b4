// Package ehrsource reads the cleaned per-split EHR tables produced by the
// cleaning step into records.Tables.
package ehrsource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
	"github.com/synaptica-ai/ehrdata/pkg/records"
	"golang.org/x/sync/errgroup"
)

var ErrMissingColumn = errors.New("required column missing")

const (
	patientsFile     = "patients.csv"
	demographicsFile = "demographics.csv"
	modalityPrefix   = "modality_"
)

// SplitDir is {path}/cleaned/{split}.
func SplitDir(path, split string) string {
	return filepath.Join(path, "cleaned", split)
}

// Dir is the directory holding one split's tables for one modality group.
func Dir(path, split string, modality int) string {
	return filepath.Join(SplitDir(path, split), fmt.Sprintf("%s%d", modalityPrefix, modality))
}

// Modalities lists the modality codes with cleaned tables in a split, sorted.
func Modalities(path, split string) ([]int, error) {
	entries, err := os.ReadDir(SplitDir(path, split))
	if err != nil {
		return nil, err
	}
	var codes []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), modalityPrefix) {
			continue
		}
		code, err := strconv.Atoi(strings.TrimPrefix(e.Name(), modalityPrefix))
		if err != nil {
			continue
		}
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes, nil
}

// Load reads patients, demographics and every record table of one split and
// modality group. A missing record table loads as empty.
func Load(path, split string, modality int) (records.Tables, error) {
	dir := Dir(path, split, modality)
	tables := records.Tables{Split: split, Modality: modality}

	patients, err := readPatients(filepath.Join(dir, patientsFile))
	if err != nil {
		return tables, err
	}
	tables.Patients = patients

	var g errgroup.Group
	g.Go(func() error {
		demo, err := readDemographics(filepath.Join(dir, demographicsFile))
		if err != nil {
			return err
		}
		tables.Demographics = demo
		return nil
	})
	for _, rt := range records.AllRecordTypes() {
		rt := rt
		g.Go(func() error {
			events, err := readEvents(filepath.Join(dir, rt.String()+".csv"))
			if err != nil {
				return fmt.Errorf("%s: %w", rt, err)
			}
			tables.Events[rt] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return tables, err
	}

	logger.Log.WithFields(map[string]interface{}{
		"split":    split,
		"modality": modality,
		"patients": len(tables.Patients),
	}).Info("loaded cleaned tables")
	return tables, nil
}

type table struct {
	header map[string]int
	names  []string
	rows   [][]string
}

func (t *table) col(name string) (int, error) {
	i, ok := t.header[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingColumn, name)
	}
	return i, nil
}

func readTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	names, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	t := &table{header: make(map[string]int, len(names)), names: names}
	for i, n := range names {
		t.header[n] = i
	}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

// readPatients treats every column after patient and birthdate whose name does
// not contain "_age" as a 0/1 condition label.
func readPatients(path string) ([]records.PatientRow, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	idCol, err := t.col("patient")
	if err != nil {
		return nil, err
	}
	bdCol, err := t.col("birthdate")
	if err != nil {
		return nil, err
	}
	var conditions []int
	for i, name := range t.names {
		if i == idCol || i == bdCol || strings.Contains(name, "_age") {
			continue
		}
		conditions = append(conditions, i)
	}

	rows := make([]records.PatientRow, 0, len(t.rows))
	for n, rec := range t.rows {
		row := records.PatientRow{
			PatientID:  field(rec, idCol),
			Birthdate:  field(rec, bdCol),
			Conditions: make(map[string]int, len(conditions)),
		}
		for _, c := range conditions {
			v, err := parseFlag(field(rec, c))
			if err != nil {
				return nil, fmt.Errorf("%s row %d column %s: %w", path, n+1, t.names[c], err)
			}
			row.Conditions[t.names[c]] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readDemographics(path string) (map[string]records.DemographicsRow, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	idCol, err := t.col("patient")
	if err != nil {
		return nil, err
	}
	cols := map[string]int{}
	for _, name := range []string{"birthdate", "marital", "race", "ethnicity", "gender", "birthplace", "city", "state", "zip", "age"} {
		if i, ok := t.header[name]; ok {
			cols[name] = i
		} else {
			cols[name] = -1
		}
	}
	get := func(rec []string, name string) string {
		if i := cols[name]; i >= 0 {
			return field(rec, i)
		}
		return ""
	}

	out := make(map[string]records.DemographicsRow, len(t.rows))
	for n, rec := range t.rows {
		var age float64
		if s := get(rec, "age"); s != "" {
			if age, err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("%s row %d: age: %w", path, n+1, err)
			}
		}
		out[field(rec, idCol)] = records.DemographicsRow{
			Birthdate:  get(rec, "birthdate"),
			Marital:    get(rec, "marital"),
			Race:       get(rec, "race"),
			Ethnicity:  get(rec, "ethnicity"),
			Gender:     get(rec, "gender"),
			Birthplace: get(rec, "birthplace"),
			City:       get(rec, "city"),
			State:      get(rec, "state"),
			Zip:        get(rec, "zip"),
			Age:        age,
		}
	}
	return out, nil
}

func readEvents(path string) (records.EventTable, error) {
	t, err := readTable(path)
	if os.IsNotExist(err) {
		logger.Log.WithField("file", path).Warn("record table missing, using empty table")
		return records.EventTable{}, nil
	}
	if err != nil {
		return nil, err
	}
	idCol, err := t.col("patient")
	if err != nil {
		return nil, err
	}
	codeCol, err := t.col("code")
	if err != nil {
		return nil, err
	}
	ageCol, err := t.col("age")
	if err != nil {
		return nil, err
	}
	monthsCol, hasMonths := t.header["age_months"]

	events := records.EventTable{}
	for n, rec := range t.rows {
		age, err := parseAge(field(rec, ageCol))
		if err != nil {
			return nil, fmt.Errorf("row %d: age: %w", n+1, err)
		}
		ev := records.Event{Code: field(rec, codeCol), Age: age}
		if hasMonths {
			if ev.AgeMonths, err = parseAge(field(rec, monthsCol)); err != nil {
				return nil, fmt.Errorf("row %d: age_months: %w", n+1, err)
			}
		}
		id := field(rec, idCol)
		events[id] = append(events[id], ev)
	}
	return events, nil
}

// parseAge accepts integral ages written as "3" or "3.0".
func parseAge(s string) (int, error) {
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func parseFlag(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f != 0 {
			return 1, nil
		}
		return 0, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return 0, err
	}
	if b {
		return 1, nil
	}
	return 0, nil
}
