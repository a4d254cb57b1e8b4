package dataset

import (
	"fmt"
	"sort"

	"github.com/exascience/pargo/parallel"
	"github.com/synaptica-ai/ehrdata/pkg/patient"
	"github.com/synaptica-ai/ehrdata/pkg/tensor"
)

// EHRItem is the EHR part of one dataset item.
type EHRItem struct {
	Patient  *patient.Patient
	Y        []float64
	Modality ModalityType
}

// Item pairs the EHR triple with auxiliary payloads. Aux is nil for EHR-only
// groups.
type Item struct {
	EHR EHRItem
	Aux map[Modality]*tensor.Tensor
}

// Dataset is random access over items.
type Dataset interface {
	Len() int
	Item(i int) (Item, error)
}

type EHROptions struct {
	// LazyLoadDevice defers device placement to item access, where each item
	// is a freshly owned copy. Otherwise the whole list is placed once at
	// construction and items are shared read-only.
	LazyLoadDevice bool
	Device         patient.Device
}

// EHRDataset serves patients of one modality group with their label vectors.
type EHRDataset struct {
	list     *patient.List
	ys       [][]float64
	modality ModalityType
	opts     EHROptions
}

func NewEHRDataset(list *patient.List, labels []string, modality ModalityType, opts EHROptions) *EHRDataset {
	if opts.Device == "" {
		opts.Device = patient.CPU
	}
	if !opts.LazyLoadDevice {
		list = list.ToDevice(opts.Device)
	}
	ys := make([][]float64, list.Len())
	parallel.Range(0, list.Len(), 0, func(low, high int) {
		for i := low; i < high; i++ {
			ys[i] = list.At(i).Labels(labels)
		}
	})
	return &EHRDataset{list: list, ys: ys, modality: modality, opts: opts}
}

func (d *EHRDataset) Len() int {
	return d.list.Len()
}

func (d *EHRDataset) Modality() ModalityType {
	return d.modality
}

func (d *EHRDataset) EHR(i int) EHRItem {
	p := d.list.At(i)
	if d.opts.LazyLoadDevice {
		p = p.CopyTo(d.opts.Device)
	}
	return EHRItem{Patient: p, Y: d.ys[i], Modality: d.modality}
}

func (d *EHRDataset) Item(i int) (Item, error) {
	return Item{EHR: d.EHR(i)}, nil
}

// MultimodalDataset joins an EHR dataset with the auxiliary sources of its
// modality group, matched by patient id.
type MultimodalDataset struct {
	ehr *EHRDataset
	aux []AuxSource
}

func NewMultimodalDataset(ehr *EHRDataset, aux ...AuxSource) *MultimodalDataset {
	return &MultimodalDataset{ehr: ehr, aux: aux}
}

func (d *MultimodalDataset) Len() int {
	return d.ehr.Len()
}

func (d *MultimodalDataset) Item(i int) (Item, error) {
	ehr := d.ehr.EHR(i)
	if len(d.aux) == 0 {
		return Item{EHR: ehr}, nil
	}
	payloads := make(map[Modality]*tensor.Tensor, len(d.aux))
	for _, src := range d.aux {
		t, err := src.Get(ehr.Patient.PatientID)
		if err != nil {
			return Item{}, err
		}
		payloads[src.Modality()] = t
	}
	return Item{EHR: ehr, Aux: payloads}, nil
}

// IndexRange is a half-open range of global indices.
type IndexRange struct {
	Lo, Hi int
}

func (r IndexRange) Indices() []int {
	out := make([]int, 0, r.Hi-r.Lo)
	for i := r.Lo; i < r.Hi; i++ {
		out = append(out, i)
	}
	return out
}

// ConcatDataset addresses several datasets as one sequence.
type ConcatDataset struct {
	datasets   []Dataset
	cumulative []int
}

func NewConcatDataset(datasets []Dataset) *ConcatDataset {
	cumulative := make([]int, len(datasets))
	total := 0
	for i, d := range datasets {
		total += d.Len()
		cumulative[i] = total
	}
	return &ConcatDataset{datasets: datasets, cumulative: cumulative}
}

func (c *ConcatDataset) Len() int {
	if len(c.cumulative) == 0 {
		return 0
	}
	return c.cumulative[len(c.cumulative)-1]
}

// CumulativeSizes returns the running totals of dataset lengths.
func (c *ConcatDataset) CumulativeSizes() []int {
	return append([]int(nil), c.cumulative...)
}

// Ranges returns the global index range of every dataset.
func (c *ConcatDataset) Ranges() []IndexRange {
	ranges := make([]IndexRange, len(c.cumulative))
	lo := 0
	for i, hi := range c.cumulative {
		ranges[i] = IndexRange{Lo: lo, Hi: hi}
		lo = hi
	}
	return ranges
}

func (c *ConcatDataset) Item(i int) (Item, error) {
	if i < 0 || i >= c.Len() {
		return Item{}, fmt.Errorf("index %d out of range [0,%d)", i, c.Len())
	}
	d := sort.Search(len(c.cumulative), func(k int) bool { return c.cumulative[k] > i })
	local := i
	if d > 0 {
		local = i - c.cumulative[d-1]
	}
	return c.datasets[d].Item(local)
}
