package dataset

import (
	"errors"
	"fmt"
	"math"

	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
	"github.com/synaptica-ai/ehrdata/pkg/patient"
	"github.com/synaptica-ai/ehrdata/pkg/records"
)

// Splits in the order they are processed.
var Splits = []string{"train", "valid", "test"}

var ErrSplitMismatch = errors.New("patient lists and modality types differ in count")

// DataSplits holds the preprocessed patient lists of every split, one list
// per modality group.
type DataSplits struct {
	Lists      map[string][]*patient.List
	Modalities map[string][]ModalityType
}

// LoadSplits loads every modality group of train, valid and test.
func LoadSplits(path string, w records.AgeWindow) (*DataSplits, error) {
	ds := &DataSplits{
		Lists:      map[string][]*patient.List{},
		Modalities: map[string][]ModalityType{},
	}
	for _, split := range Splits {
		codes, err := patient.Modalities(path, split, w)
		if err != nil {
			return nil, err
		}
		for _, code := range codes {
			m, err := ParseModalityType(code)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", split, err)
			}
			list, err := patient.Load(path, split, code, w)
			if err != nil {
				return nil, err
			}
			ds.Lists[split] = append(ds.Lists[split], list)
			ds.Modalities[split] = append(ds.Modalities[split], m)
		}
		logger.Log.WithFields(map[string]interface{}{
			"split":  split,
			"groups": len(codes),
		}).Info("loaded split")
	}
	return ds, nil
}

// Lengths returns patient counts per split plus "total".
func (d *DataSplits) Lengths() map[string]int {
	out := map[string]int{}
	total := 0
	for _, split := range Splits {
		n := 0
		for _, l := range d.Lists[split] {
			n += l.Len()
		}
		out[split] = n
		total += n
	}
	out["total"] = total
	return out
}

// LabelCounts returns, per label, the number of positive patients in each
// split plus "total".
func (d *DataSplits) LabelCounts(labels []string) map[string]map[string]int {
	out := make(map[string]map[string]int, len(labels))
	for _, label := range labels {
		counts := map[string]int{}
		total := 0
		for _, split := range Splits {
			n := 0
			for _, l := range d.Lists[split] {
				for _, p := range l.Items {
					if p.Conditions[label] == 1 {
						n++
					}
				}
			}
			counts[split] = n
			total += n
		}
		counts["total"] = total
		out[label] = counts
	}
	return out
}

// PosWeights returns round(negatives/positives) per label for every split,
// in label order, rounding halves to even. A label without positives gets
// weight 0.
func (d *DataSplits) PosWeights(labels []string) map[string][]float64 {
	lengths := d.Lengths()
	counts := d.LabelCounts(labels)
	out := map[string][]float64{}
	for _, split := range append(append([]string(nil), Splits...), "total") {
		weights := make([]float64, len(labels))
		for i, label := range labels {
			pos := counts[label][split]
			if pos == 0 {
				continue
			}
			weights[i] = math.RoundToEven(float64(lengths[split]-pos) / float64(pos))
		}
		out[split] = weights
	}
	return out
}

// MultimodalEHRData builds loaders over the preprocessed splits of one
// dataset.
type MultimodalEHRData struct {
	Path           string
	Labels         []string
	Window         records.AgeWindow
	LazyLoadDevice bool
	Device         patient.Device
	MRIShape       []int
	DNAShape       []int
	ECGShape       []int
	Seed           int64

	splits *DataSplits
	ecg    AuxSource
}

func (m *MultimodalEHRData) Load() error {
	splits, err := LoadSplits(m.Path, m.Window)
	if err != nil {
		return err
	}
	m.splits = splits
	return nil
}

func (m *MultimodalEHRData) Splits() *DataSplits {
	return m.splits
}

// Loaders returns one loader per split. Only train is shuffled.
func (m *MultimodalEHRData) Loaders(batchSize, numWorkers int) (map[string]*Loader, error) {
	if m.splits == nil {
		if err := m.Load(); err != nil {
			return nil, err
		}
	}
	loaders := map[string]*Loader{}
	for _, split := range Splits {
		lists := m.splits.Lists[split]
		mods := m.splits.Modalities[split]
		if len(lists) != len(mods) {
			return nil, fmt.Errorf("%w: %d != %d in %s", ErrSplitMismatch, len(lists), len(mods), split)
		}

		datasets := make([]Dataset, 0, len(lists))
		for i, list := range lists {
			ehr := NewEHRDataset(list, m.Labels, mods[i], EHROptions{LazyLoadDevice: m.LazyLoadDevice, Device: m.Device})
			aux, err := m.auxSources(mods[i])
			if err != nil {
				return nil, err
			}
			datasets = append(datasets, NewMultimodalDataset(ehr, aux...))
		}

		ds, sampler := NewModalitySampledDataset(datasets, batchSize, split == "train", m.Seed)
		loaders[split] = NewLoader(ds, sampler, numWorkers)
	}
	return loaders, nil
}

func (m *MultimodalEHRData) auxSources(mt ModalityType) ([]AuxSource, error) {
	names, err := mt.Auxiliary()
	if err != nil {
		return nil, err
	}
	sources := make([]AuxSource, 0, len(names))
	for _, name := range names {
		switch name {
		case MRI:
			sources = append(sources, NewMRISource(m.Path, m.MRIShape))
		case DNA:
			sources = append(sources, NewDNASource(m.Path, m.DNAShape))
		case ECG:
			if m.ecg == nil {
				src, err := NewECGSource(m.Path, m.ECGShape)
				if err != nil {
					return nil, err
				}
				m.ecg = src
			}
			sources = append(sources, m.ecg)
		}
	}
	return sources, nil
}
