package patient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/exascience/pargo/parallel"
	"github.com/synaptica-ai/ehrdata/pkg/records"
)

var ErrMaskLength = errors.New("mask length does not match list length")

// List is the set of patients preprocessed for one split, modality group and
// age window.
type List struct {
	Items    []*Patient
	BasePath string
	Split    string
	Modality int
	Window   records.AgeWindow
}

func (l *List) Len() int {
	return len(l.Items)
}

func (l *List) At(i int) *Patient {
	return l.Items[i]
}

func (l *List) Slice(lo, hi int) []*Patient {
	return l.Items[lo:hi]
}

// Select returns the patients at the given indices, in index order.
func (l *List) Select(indices []int) []*Patient {
	out := make([]*Patient, len(indices))
	for i, idx := range indices {
		out[i] = l.Items[idx]
	}
	return out
}

// Mask returns the patients whose mask entry is true.
func (l *List) Mask(mask []bool) ([]*Patient, error) {
	if len(mask) != len(l.Items) {
		return nil, fmt.Errorf("%w: %d != %d", ErrMaskLength, len(mask), len(l.Items))
	}
	var out []*Patient
	for i, keep := range mask {
		if keep {
			out = append(out, l.Items[i])
		}
	}
	return out, nil
}

// ToDevice places every patient on dev in parallel and returns the placed list.
// It must not run concurrently with readers of the same list.
func (l *List) ToDevice(dev Device) *List {
	placed := make([]*Patient, len(l.Items))
	parallel.Range(0, len(l.Items), 0, func(low, high int) {
		for i := low; i < high; i++ {
			placed[i] = l.Items[i].ToDevice(dev)
		}
	})
	out := *l
	out.Items = placed
	return &out
}

func (l *List) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PatientList (%d items)\n", l.Len())
	fmt.Fprintf(&b, "base path:%s; split:%s; modality:%d; age span:%d %s\n", l.BasePath, l.Split, l.Modality, l.Window.Span(), l.Window.Unit)
	fmt.Fprintf(&b, "age_start:%d; age_stop:%d; age_type:%s\n", l.Window.Start, l.Window.Stop, l.Window.Unit)
	for i, p := range l.Items {
		if i == 10 {
			b.WriteString("...\n")
			break
		}
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	return b.String()
}
