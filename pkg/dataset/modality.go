package dataset

import (
	"errors"
	"fmt"
)

var ErrUnrecognizedModality = errors.New("unrecognized modality type")

// Modality names an auxiliary data source that may accompany EHR data.
type Modality string

const (
	MRI Modality = "mri"
	DNA Modality = "dna"
	ECG Modality = "ecg"
)

// AuxOrder is the order auxiliary payloads are assembled in a batch.
var AuxOrder = []Modality{MRI, DNA, ECG}

// ModalityType identifies the combination of modalities shared by a group of
// patients. Its value is the on-disk code; the codes are enumerated literals,
// not bit fields.
type ModalityType uint8

const (
	EHROnly          ModalityType = 0
	EHRWithMRI       ModalityType = 1
	EHRWithDNA       ModalityType = 10
	EHRWithMRIDNA    ModalityType = 11
	EHRWithECG       ModalityType = 20
	EHRWithMRIECG    ModalityType = 21
	EHRWithDNAECG    ModalityType = 30
	EHRWithMRIDNAECG ModalityType = 31
)

// ParseModalityType maps an on-disk code to its ModalityType.
func ParseModalityType(code int) (ModalityType, error) {
	m := ModalityType(code)
	if code < 0 || int(m) != code || !m.valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnrecognizedModality, code)
	}
	return m, nil
}

func (m ModalityType) valid() bool {
	_, err := m.Auxiliary()
	return err == nil
}

// Code returns the on-disk code, or -1 for a malformed value.
func (m ModalityType) Code() int {
	if !m.valid() {
		return -1
	}
	return int(m)
}

// Auxiliary lists the non-EHR modalities of m in AuxOrder.
func (m ModalityType) Auxiliary() ([]Modality, error) {
	switch m {
	case EHROnly:
		return nil, nil
	case EHRWithMRI:
		return []Modality{MRI}, nil
	case EHRWithDNA:
		return []Modality{DNA}, nil
	case EHRWithMRIDNA:
		return []Modality{MRI, DNA}, nil
	case EHRWithECG:
		return []Modality{ECG}, nil
	case EHRWithMRIECG:
		return []Modality{MRI, ECG}, nil
	case EHRWithDNAECG:
		return []Modality{DNA, ECG}, nil
	case EHRWithMRIDNAECG:
		return []Modality{MRI, DNA, ECG}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnrecognizedModality, int(m))
	}
}

func (m ModalityType) String() string {
	aux, err := m.Auxiliary()
	if err != nil {
		return fmt.Sprintf("modality(%d)", int(m))
	}
	s := "ehr"
	for _, a := range aux {
		s += "+" + string(a)
	}
	return s
}
