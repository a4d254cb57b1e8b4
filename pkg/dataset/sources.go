package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/synaptica-ai/ehrdata/pkg/tensor"
)

var ErrModalityLookup = errors.New("modality lookup failed")

// AuxSource resolves one auxiliary modality payload by patient id.
type AuxSource interface {
	Modality() Modality
	Get(patientID string) (*tensor.Tensor, error)
}

// fileSource finds exactly one file per patient in a directory.
type fileSource struct {
	modality Modality
	dir      string
	shape    []int
	fill     float32
}

// NewMRISource looks up imaging files under {datastore}/output/dicom.
func NewMRISource(datastore string, shape []int) AuxSource {
	return &fileSource{modality: MRI, dir: filepath.Join(datastore, "output", "dicom"), shape: shape, fill: 1}
}

// NewDNASource looks up genomic files under {datastore}/output/dna.
func NewDNASource(datastore string, shape []int) AuxSource {
	return &fileSource{modality: DNA, dir: filepath.Join(datastore, "output", "dna"), shape: shape, fill: 10}
}

func (s *fileSource) Modality() Modality {
	return s.modality
}

func (s *fileSource) Get(patientID string) (*tensor.Tensor, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+patientID+"*"))
	if err != nil {
		return nil, err
	}
	if len(matches) != 1 {
		return nil, fmt.Errorf("%w: %s filename match error - found %d files with ptid: %s", ErrModalityLookup, s.modality, len(matches), patientID)
	}
	return tensor.Full(s.shape, s.fill), nil
}

type ecgSource struct {
	patients map[string]int
	shape    []int
}

// NewECGSource indexes the patient column of {datastore}/ecg.csv.
func NewECGSource(datastore string, shape []int) (AuxSource, error) {
	f, err := os.Open(filepath.Join(datastore, "ecg.csv"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading ecg.csv header: %w", err)
	}
	col := -1
	for i, name := range header {
		if name == "patient" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("ecg.csv has no patient column")
	}

	s := &ecgSource{patients: map[string]int{}, shape: shape}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading ecg.csv: %w", err)
		}
		if col < len(rec) {
			s.patients[rec[col]]++
		}
	}
	return s, nil
}

func (s *ecgSource) Modality() Modality {
	return ECG
}

// Get accepts any number of ECG rows per patient; only absence is an error.
func (s *ecgSource) Get(patientID string) (*tensor.Tensor, error) {
	if s.patients[patientID] == 0 {
		return nil, fmt.Errorf("%w: ptid: %s - not found in ECG data (found 0 records)", ErrModalityLookup, patientID)
	}
	return tensor.Full(s.shape, 20), nil
}
