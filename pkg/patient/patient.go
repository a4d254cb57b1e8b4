package patient

import (
	"fmt"
	"sort"
	"strings"

	"github.com/synaptica-ai/ehrdata/pkg/records"
)

// Device names where a patient's tensors live.
type Device string

const CPU Device = "cpu"

// Patient holds all numericalized data for one patient. A Patient is never
// modified after Create; ToDevice returns a new value instead.
type Patient struct {
	PatientID  string
	Birthdate  string
	Conditions map[string]int

	Codes        [records.NumRecordTypes][]int64
	Offsets      [records.NumRecordTypes][]int64
	Demographics []int64
	AgeNow       float32

	Device Device
}

// Create numericalizes one patient's tables for the given age window.
func Create(events [records.NumRecordTypes][]records.Event, demographics records.DemographicsRow, vocabs records.VocabList, row records.PatientRow, w records.AgeWindow) (*Patient, error) {
	codes, offsets, err := records.RecordSequences(events, vocabs.Records, w)
	if err != nil {
		return nil, fmt.Errorf("patient %s: %w", row.PatientID, err)
	}
	demo, age, err := records.EncodeDemographics(demographics, vocabs.Demographics, vocabs.AgeMean, vocabs.AgeStd)
	if err != nil {
		return nil, fmt.Errorf("patient %s: %w", row.PatientID, err)
	}

	conditions := make(map[string]int, len(row.Conditions))
	for k, v := range row.Conditions {
		conditions[k] = v
	}

	return &Patient{
		PatientID:    row.PatientID,
		Birthdate:    row.Birthdate,
		Conditions:   conditions,
		Codes:        codes,
		Offsets:      offsets,
		Demographics: demo,
		AgeNow:       age,
		Device:       CPU,
	}, nil
}

// ToDevice returns the patient resident on dev. When the patient is already
// there the receiver itself is returned; otherwise every buffer is copied.
func (p *Patient) ToDevice(dev Device) *Patient {
	if p.Device == dev {
		return p
	}
	moved := p.Clone()
	moved.Device = dev
	return moved
}

// CopyTo always returns a freshly owned copy resident on dev.
func (p *Patient) CopyTo(dev Device) *Patient {
	c := p.Clone()
	c.Device = dev
	return c
}

// Clone returns a deep copy that shares no buffers with p.
func (p *Patient) Clone() *Patient {
	c := &Patient{
		PatientID:    p.PatientID,
		Birthdate:    p.Birthdate,
		Conditions:   make(map[string]int, len(p.Conditions)),
		Demographics: append([]int64(nil), p.Demographics...),
		AgeNow:       p.AgeNow,
		Device:       p.Device,
	}
	for k, v := range p.Conditions {
		c.Conditions[k] = v
	}
	for i := range p.Codes {
		c.Codes[i] = append([]int64(nil), p.Codes[i]...)
		c.Offsets[i] = append([]int64(nil), p.Offsets[i]...)
	}
	return c
}

// Labels returns the 0/1 outcome of each named condition, in order. Unknown
// labels count as negative.
func (p *Patient) Labels(names []string) []float64 {
	ys := make([]float64, len(names))
	for i, name := range names {
		ys[i] = float64(p.Conditions[name])
	}
	return ys
}

func (p *Patient) String() string {
	names := make([]string, 0, len(p.Conditions))
	for k := range p.Conditions {
		names = append(names, k)
	}
	sort.Strings(names)
	if len(names) > 2 {
		names = names[:2]
	}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("(%s, %d)", n, p.Conditions[n])
	}
	return fmt.Sprintf("ptid:%s, birthdate:%s, [%s].., device:%s", p.PatientID, p.Birthdate, strings.Join(parts, ", "), p.Device)
}
