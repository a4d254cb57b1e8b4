package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
	"github.com/synaptica-ai/ehrdata/pkg/metrics"
	"gonum.org/v1/gonum/mat"
)

const scoreSuffix = "_score"

// LabelReport is the evaluation of one label's predictions.
type LabelReport struct {
	AUROC            float64    `json:"auroc"`
	CI               [2]float64 `json:"auroc_ci"`
	Accuracy         float64    `json:"accuracy"`
	NullAccuracy     float64    `json:"null_accuracy"`
	OptimalThreshold float64    `json:"optimal_threshold"`
	Error            string     `json:"error,omitempty"`
}

type Report struct {
	Labels     map[string]LabelReport `json:"labels"`
	MacroAUROC float64                `json:"macro_auroc,omitempty"`
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <predictions.csv>",
		Short: "Score predictions: AUROC with bootstrap CI, accuracy and optimal threshold",
		Long: "The CSV holds one row per patient. For each label it needs a 0/1 column " +
			"named after the label and a probability column named <label>_score.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			labels, _ := cmd.Flags().GetStringSlice("labels")
			threshold, _ := cmd.Flags().GetFloat64("threshold")
			resamples, _ := cmd.Flags().GetInt("resamples")
			seed, _ := cmd.Flags().GetInt64("seed")

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			y, yhat, labels, err := readPredictions(f, labels)
			if err != nil {
				return err
			}
			report, err := Evaluate(y, yhat, labels, threshold, metrics.BootstrapConfig{Resamples: resamples, Seed: seed})
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().StringSlice("labels", nil, "Labels to score (default every column with a _score pair)")
	cmd.Flags().Float64("threshold", 0.5, "Decision threshold for accuracy")
	cmd.Flags().Int("resamples", metrics.DefaultResamples, "Bootstrap resamples for the AUROC interval")
	cmd.Flags().Int64("seed", metrics.DefaultSeed, "Bootstrap seed")
	return cmd
}

// Evaluate scores every label column of y against yhat. A label whose truth
// has a single class is reported with an error instead of failing the run.
func Evaluate(y, yhat *mat.Dense, labels []string, threshold float64, boot metrics.BootstrapConfig) (Report, error) {
	report := Report{Labels: make(map[string]LabelReport, len(labels))}
	rows, _ := y.Dims()
	scorable := 0
	for j, label := range labels {
		truth := mat.Col(nil, j, y)
		pred := mat.Col(nil, j, yhat)

		var lr LabelReport
		var err error
		if lr.Accuracy, err = metrics.Accuracy(truth, pred, threshold); err != nil {
			return report, fmt.Errorf("%s: %w", label, err)
		}
		if lr.NullAccuracy, err = metrics.NullAccuracy(truth); err != nil {
			return report, fmt.Errorf("%s: %w", label, err)
		}

		roc, err := metrics.NewROC(truth, pred)
		if errors.Is(err, metrics.ErrSingleClass) {
			lr.Error = err.Error()
			report.Labels[label] = lr
			logger.Log.WithFields(map[string]interface{}{"label": label, "rows": rows}).Warn("label has a single class, AUROC undefined")
			continue
		}
		if err != nil {
			return report, fmt.Errorf("%s: %w", label, err)
		}
		lr.AUROC = roc.AUROC
		lr.OptimalThreshold = roc.OptimalThreshold()
		if lr.CI[0], lr.CI[1], err = metrics.AUROCCIWith(truth, pred, boot); err != nil {
			return report, fmt.Errorf("%s: %w", label, err)
		}
		report.Labels[label] = lr
		report.MacroAUROC += lr.AUROC
		scorable++
	}
	if scorable > 0 {
		report.MacroAUROC /= float64(scorable)
	}
	return report, nil
}

// readPredictions parses the predictions CSV into truth and score matrices
// with one column per label.
func readPredictions(r io.Reader, labels []string) (*mat.Dense, *mat.Dense, []string, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, nil, err
	}
	if len(records) < 2 {
		return nil, nil, nil, metrics.ErrEmpty
	}
	header := map[string]int{}
	for i, name := range records[0] {
		header[name] = i
	}
	if len(labels) == 0 {
		for _, name := range records[0] {
			if _, ok := header[name+scoreSuffix]; ok {
				labels = append(labels, name)
			}
		}
	}
	if len(labels) == 0 {
		return nil, nil, nil, fmt.Errorf("no <label>,<label>%s column pairs found", scoreSuffix)
	}

	rows := records[1:]
	y := mat.NewDense(len(rows), len(labels), nil)
	yhat := mat.NewDense(len(rows), len(labels), nil)
	for j, label := range labels {
		tc, ok := header[label]
		if !ok {
			return nil, nil, nil, fmt.Errorf("column %q missing", label)
		}
		sc, ok := header[label+scoreSuffix]
		if !ok {
			return nil, nil, nil, fmt.Errorf("column %q missing", label+scoreSuffix)
		}
		for i, rec := range rows {
			t, err := strconv.ParseFloat(rec[tc], 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("row %d %s: %w", i+1, label, err)
			}
			s, err := strconv.ParseFloat(rec[sc], 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("row %d %s: %w", i+1, label+scoreSuffix, err)
			}
			y.Set(i, j, t)
			yhat.Set(i, j, s)
		}
	}
	return y, yhat, labels, nil
}
