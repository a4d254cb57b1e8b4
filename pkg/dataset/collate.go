package dataset

import (
	"errors"
	"fmt"

	"github.com/synaptica-ai/ehrdata/pkg/patient"
	"github.com/synaptica-ai/ehrdata/pkg/tensor"
	"gonum.org/v1/gonum/mat"
)

var ErrMixedModality = errors.New("batch mixes modality types")

// Batch is the collated form of one modality-homogeneous batch.
type Batch struct {
	Patients []*patient.Patient
	Ys       *mat.Dense
	Modality ModalityType

	MRI *tensor.Tensor
	DNA *tensor.Tensor
	ECG *tensor.Tensor
}

// Get returns the stacked payload of an auxiliary modality, nil if absent.
func (b *Batch) Get(m Modality) *tensor.Tensor {
	switch m {
	case MRI:
		return b.MRI
	case DNA:
		return b.DNA
	case ECG:
		return b.ECG
	}
	return nil
}

// Keys lists the keys present in the batch, "patients" and "ys" first.
func (b *Batch) Keys() []string {
	keys := []string{"patients", "ys"}
	for _, m := range AuxOrder {
		if b.Get(m) != nil {
			keys = append(keys, string(m))
		}
	}
	return keys
}

// Collate stacks labels into a matrix, keeps patients as a list and stacks
// every auxiliary payload the batch's modality type carries.
func Collate(items []Item) (*Batch, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("collate: empty batch")
	}
	m := items[0].EHR.Modality
	nLabels := len(items[0].EHR.Y)
	if nLabels == 0 {
		return nil, fmt.Errorf("collate: items carry no labels")
	}

	b := &Batch{Patients: make([]*patient.Patient, len(items)), Modality: m}
	ys := make([]float64, 0, len(items)*nLabels)
	for i, it := range items {
		if it.EHR.Modality != m {
			return nil, fmt.Errorf("%w: %d and %d", ErrMixedModality, int(m), int(it.EHR.Modality))
		}
		if len(it.EHR.Y) != nLabels {
			return nil, fmt.Errorf("collate: item %d has %d labels, expected %d", i, len(it.EHR.Y), nLabels)
		}
		b.Patients[i] = it.EHR.Patient
		ys = append(ys, it.EHR.Y...)
	}
	b.Ys = mat.NewDense(len(items), nLabels, ys)

	aux, err := m.Auxiliary()
	if err != nil {
		return nil, err
	}
	for _, name := range aux {
		payloads := make([]*tensor.Tensor, len(items))
		for i, it := range items {
			payloads[i] = it.Aux[name]
			if payloads[i] == nil {
				return nil, fmt.Errorf("collate: item %d of modality %d is missing %s", i, int(m), name)
			}
		}
		stacked, err := tensor.Stack(payloads)
		if err != nil {
			return nil, fmt.Errorf("collate %s: %w", name, err)
		}
		switch name {
		case MRI:
			b.MRI = stacked
		case DNA:
			b.DNA = stacked
		case ECG:
			b.ECG = stacked
		}
	}
	return b, nil
}
