// Package metrics scores binary and multi-label classifiers from label and
// predicted-probability arrays.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrLengthMismatch = errors.New("labels and predictions differ in length")
	ErrSingleClass    = errors.New("only one class present in labels")
	ErrEmpty          = errors.New("no samples")
)

// Accuracy is the fraction of predictions where (yhat > threshold) matches y.
func Accuracy(y, yhat []float64, threshold float64) (float64, error) {
	if err := checkPair(y, yhat); err != nil {
		return 0, err
	}
	correct := 0
	for i := range y {
		if (yhat[i] > threshold) == (y[i] == 1) {
			correct++
		}
	}
	return float64(correct) / float64(len(y)), nil
}

// NullAccuracy is the accuracy of always predicting the majority class.
func NullAccuracy(y []float64) (float64, error) {
	if len(y) == 0 {
		return 0, ErrEmpty
	}
	mean := stat.Mean(y, nil)
	return math.Max(mean, 1-mean), nil
}

// ROC holds the curve and area for a single class. Points are ordered by
// decreasing threshold; the first point is (0,0) at threshold +Inf.
type ROC struct {
	FPR        []float64
	TPR        []float64
	Thresholds []float64
	AUROC      float64
}

func NewROC(y, yhat []float64) (*ROC, error) {
	if err := checkPair(y, yhat); err != nil {
		return nil, err
	}
	if !bothClasses(y) {
		return nil, ErrSingleClass
	}
	scores := append([]float64(nil), yhat...)
	classes := make([]bool, len(y))
	for i, v := range y {
		classes[i] = v == 1
	}
	stat.SortWeightedLabeled(scores, classes, nil)
	tpr, fpr, thresh := stat.ROC(nil, scores, classes, nil)
	return &ROC{
		FPR:        fpr,
		TPR:        tpr,
		Thresholds: thresh,
		AUROC:      integrate.Trapezoidal(fpr, tpr),
	}, nil
}

// OptimalThreshold returns the threshold of the curve point closest to the
// top-left corner (fpr 0, tpr 1).
func (r *ROC) OptimalThreshold() float64 {
	dist := make([]float64, len(r.FPR))
	for i := range dist {
		dist[i] = math.Hypot(1-r.TPR[i], r.FPR[i])
	}
	return r.Thresholds[floats.MinIdx(dist)]
}

// AUROC returns the area under the ROC curve of a single class.
func AUROC(y, yhat []float64) (float64, error) {
	r, err := NewROC(y, yhat)
	if err != nil {
		return 0, err
	}
	return r.AUROC, nil
}

// MultiLabelROC holds one ROC per label column.
type MultiLabelROC struct {
	Labels []string
	ROCs   map[string]*ROC
}

// NewMultiLabelROC builds a ROC for every column of y and yhat, which are
// samples x labels.
func NewMultiLabelROC(y, yhat mat.Matrix, labels []string) (*MultiLabelROC, error) {
	if err := checkMatrices(y, yhat, len(labels)); err != nil {
		return nil, err
	}
	m := &MultiLabelROC{Labels: labels, ROCs: make(map[string]*ROC, len(labels))}
	for j, label := range labels {
		r, err := NewROC(mat.Col(nil, j, y), mat.Col(nil, j, yhat))
		if err != nil {
			return nil, fmt.Errorf("label %s: %w", label, err)
		}
		m.ROCs[label] = r
	}
	return m, nil
}

// Average selects how per-label scores are combined.
type Average int

const (
	AverageNone Average = iota
	AverageMacro
)

// AUROCScore scores each label column. With AverageMacro the result holds a
// single value, the unweighted mean over labels.
func AUROCScore(y, yhat mat.Matrix, avg Average) ([]float64, error) {
	_, cols := y.Dims()
	if err := checkMatrices(y, yhat, cols); err != nil {
		return nil, err
	}
	scores := make([]float64, cols)
	for j := range scores {
		s, err := AUROC(mat.Col(nil, j, y), mat.Col(nil, j, yhat))
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", j, err)
		}
		scores[j] = s
	}
	if avg == AverageMacro {
		return []float64{stat.Mean(scores, nil)}, nil
	}
	return scores, nil
}

func checkPair(y, yhat []float64) error {
	if len(y) != len(yhat) {
		return fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(y), len(yhat))
	}
	if len(y) == 0 {
		return ErrEmpty
	}
	return nil
}

func checkMatrices(y, yhat mat.Matrix, labels int) error {
	yr, yc := y.Dims()
	pr, pc := yhat.Dims()
	if yr != pr || yc != pc {
		return fmt.Errorf("%w: %dx%d != %dx%d", ErrLengthMismatch, yr, yc, pr, pc)
	}
	if yc != labels {
		return fmt.Errorf("%w: %d label names for %d columns", ErrLengthMismatch, labels, yc)
	}
	return nil
}

func bothClasses(y []float64) bool {
	var pos, neg bool
	for _, v := range y {
		if v == 1 {
			pos = true
		} else {
			neg = true
		}
		if pos && neg {
			return true
		}
	}
	return false
}
