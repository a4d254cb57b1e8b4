// Package tensor is a minimal dense float32 tensor used for auxiliary
// modality payloads and their batched form.
package tensor

import (
	"fmt"
)

type Tensor struct {
	Shape []int
	Data  []float32
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Full returns a tensor of the given shape with every element set to value.
func Full(shape []int, value float32) *Tensor {
	t := &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, numel(shape))}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t
}

func (t *Tensor) Numel() int {
	return numel(t.Shape)
}

// Stack joins same-shaped tensors along a new leading dimension.
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("stack of zero tensors")
	}
	shape := ts[0].Shape
	out := &Tensor{
		Shape: append([]int{len(ts)}, shape...),
		Data:  make([]float32, 0, len(ts)*numel(shape)),
	}
	for i, t := range ts {
		if t == nil {
			return nil, fmt.Errorf("stack: tensor %d is nil", i)
		}
		if !sameShape(shape, t.Shape) {
			return nil, fmt.Errorf("stack: tensor %d has shape %v, expected %v", i, t.Shape, shape)
		}
		out.Data = append(out.Data, t.Data...)
	}
	return out, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
