// Package predictor forecasts per-server load one sampling interval ahead
// from recent observations. The forecast combines a weighted moving average
// with a least-squares trend, so it tracks both the current level and the
// direction of the load curve.
package predictor

import (
	"github.com/lingvolabs/optilayer/pkg/errors"
)

// MinSamples is the minimum history needed before a forecast is meaningful.
const MinSamples = 3

// Predictor forecasts the next value of a load series. It is stateless and
// safe for concurrent use.
type Predictor struct {
	window int
}

// New returns a predictor that looks at the last window samples. Windows
// below MinSamples are raised to MinSamples.
func New(window int) *Predictor {
	if window < MinSamples {
		window = MinSamples
	}
	return &Predictor{window: window}
}

// Predict returns the forecast load for the next interval given samples in
// chronological order. Values are clamped to [0, 1]. With fewer than
// MinSamples observations it returns PREDICTION_UNAVAILABLE and the caller
// falls back to a non-predictive policy.
func (p *Predictor) Predict(samples []float64) (float64, error) {
	if len(samples) < MinSamples {
		return 0, errors.Newf(errors.ErrCodePredictionUnavailable,
			"need %d samples, have %d", MinSamples, len(samples))
	}
	if len(samples) > p.window {
		samples = samples[len(samples)-p.window:]
	}
	n := len(samples)

	// Weighted moving average with linearly increasing weights, so the
	// newest sample counts n times as much as the oldest.
	var wsum, weight float64
	var center float64 // weighted mean of the sample indices
	for i, v := range samples {
		w := float64(i + 1)
		wsum += w * v
		center += w * float64(i)
		weight += w
	}
	wma := wsum / weight
	center /= weight

	// Least-squares slope over the window.
	var sx, sy, sxx, sxy float64
	for i, v := range samples {
		x := float64(i)
		sx += x
		sy += v
		sxx += x * x
		sxy += x * v
	}
	fn := float64(n)
	denom := fn*sxx - sx*sx
	var slope float64
	if denom != 0 {
		slope = (fn*sxy - sx*sy) / denom
	}

	// Project the weighted average forward from its own center of mass to
	// the next index. For a perfectly linear series this extrapolates
	// exactly.
	predicted := wma + slope*(fn-center)

	if predicted < 0 {
		predicted = 0
	}
	if predicted > 1 {
		predicted = 1
	}
	return predicted, nil
}

// Window returns the configured window size.
func (p *Predictor) Window() int {
	return p.window
}
