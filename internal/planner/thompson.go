package planner

import (
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// ThompsonStats is a Normal-gamma belief over the execution time of one
// strategy, in milliseconds. Lower is better.
type ThompsonStats struct {
	Mu     float64
	Lambda float64
	Alpha  float64
	Beta   float64
	Runs   int64
}

// NewThompsonStats returns a diffuse prior centred on initialGuess.
func NewThompsonStats(initialGuess time.Duration) *ThompsonStats {
	return &ThompsonStats{
		Mu:     millis(initialGuess),
		Lambda: 1,
		Alpha:  1,
		Beta:   10,
	}
}

// Sample draws an execution time from the current belief.
func (ts *ThompsonStats) Sample(r *rand.Rand) float64 {
	tau := distuv.Gamma{Alpha: ts.Alpha, Beta: ts.Beta, Src: r}.Rand()
	sigma := math.Sqrt(1 / (ts.Lambda * tau))
	return distuv.Normal{Mu: ts.Mu, Sigma: sigma, Src: r}.Rand()
}

// Update folds one observed duration into the belief.
func (ts *ThompsonStats) Update(d time.Duration) {
	x := millis(d)
	newMu := (ts.Lambda*ts.Mu + x) / (ts.Lambda + 1)
	ts.Beta += ts.Lambda * (x - ts.Mu) * (x - ts.Mu) / (2 * (ts.Lambda + 1))
	ts.Mu = newMu
	ts.Lambda++
	ts.Alpha += 0.5
	ts.Runs++
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
