package metrics

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
)

const (
	DefaultResamples = 1000
	DefaultSeed      = 42

	// maxAttemptsFactor bounds how many resamples may be drawn per accepted
	// one before giving up.
	maxAttemptsFactor = 100
)

// BootstrapConfig controls AUROCCIWith.
type BootstrapConfig struct {
	Resamples int
	Seed      int64
}

// AUROCCI returns the 95% bootstrap confidence interval of the AUROC, using
// 1000 accepted resamples drawn with seed 42.
func AUROCCI(y, yhat []float64) (lower, upper float64, err error) {
	return AUROCCIWith(y, yhat, BootstrapConfig{Resamples: DefaultResamples, Seed: DefaultSeed})
}

// AUROCCIWith resamples (y, yhat) with replacement until cfg.Resamples
// resamples containing both classes have been scored. Single-class resamples
// are discarded and not counted. Bounds are the 2.5th and 97.5th percentile
// scores, rounded to 3 decimals.
func AUROCCIWith(y, yhat []float64, cfg BootstrapConfig) (lower, upper float64, err error) {
	if err := checkPair(y, yhat); err != nil {
		return 0, 0, err
	}
	if !bothClasses(y) {
		return 0, 0, ErrSingleClass
	}
	if cfg.Resamples <= 0 {
		cfg.Resamples = DefaultResamples
	}

	scores, rejected, err := bootstrapScores(y, yhat, cfg)
	if err != nil {
		return 0, 0, err
	}
	if rejected > 0 {
		logger.Log.WithFields(map[string]interface{}{
			"rejected":  rejected,
			"resamples": cfg.Resamples,
		}).Debug("discarded single-class bootstrap resamples")
	}

	sort.Float64s(scores)
	lower = scores[int(0.025*float64(len(scores)))]
	upper = scores[int(0.975*float64(len(scores)))]
	return round3(lower), round3(upper), nil
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

// bootstrapScores draws resamples until cfg.Resamples of them contain both
// classes. It returns the accepted scores and the number of rejected draws.
func bootstrapScores(y, yhat []float64, cfg BootstrapConfig) ([]float64, int, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	n := len(y)
	ys := make([]float64, n)
	ps := make([]float64, n)
	scores := make([]float64, 0, cfg.Resamples)
	rejected := 0

	for attempts := 0; len(scores) < cfg.Resamples; attempts++ {
		if attempts >= cfg.Resamples*maxAttemptsFactor {
			return nil, rejected, fmt.Errorf("bootstrap: only %d of %d resamples contained both classes", len(scores), cfg.Resamples)
		}
		for i := range ys {
			k := rng.Intn(n)
			ys[i], ps[i] = y[k], yhat[k]
		}
		if !bothClasses(ys) {
			rejected++
			continue
		}
		s, err := AUROC(ys, ps)
		if err != nil {
			return nil, rejected, err
		}
		scores = append(scores, s)
	}
	return scores, rejected, nil
}
