package ifr

import (
	"math"

	"bitbucket.org/dtolpin/infergo/dist"
	"gonum.org/v1/gonum/stat/distuv"
)

// CutPriors hold the secondary model's hyperparameters: weakly
// informative normals on the log rates.
type CutPriors struct {
	LogEtaMean   float64 `toml:"log_eta_mean"`   // IFR outside LTC
	LogEtaSD     float64 `toml:"log_eta_sd"`
	LogThetaMean float64 `toml:"log_theta_mean"` // death rate inside LTC
	LogThetaSD   float64 `toml:"log_theta_sd"`
}

// DefaultCutPriors center eta near 0.5% and theta near 10%, both with
// wide margins.
func DefaultCutPriors() CutPriors {
	return CutPriors{
		LogEtaMean:   math.Log(0.005),
		LogEtaSD:     2,
		LogThetaMean: math.Log(0.1),
		LogThetaSD:   2,
	}
}

// cutModel is the secondary probabilistic program for one posterior
// draw. The infection counts y are data here, not parameters: the cut.
// Parameters are [log eta_1..M, log theta_1..M].
type cutModel struct {
	y         []int // infections for this draw
	ltcPop    []int
	deaths    []int
	ltcDeaths int
	priors    CutPriors
}

func (m *cutModel) Observe(x []float64) float64 {
	mm := len(m.y)
	lp := dist.Normal.Logps(m.priors.LogEtaMean, m.priors.LogEtaSD, x[:mm]...)
	lp += dist.Normal.Logps(m.priors.LogThetaMean, m.priors.LogThetaSD, x[mm:]...)
	ltcRate := 0.0
	for j := 0; j < mm; j++ {
		eta := math.Exp(x[j])
		theta := math.Exp(x[mm+j])
		lambda := float64(m.y[j])*eta + float64(m.ltcPop[j])*theta
		lp += poissonLogProb(m.deaths[j], lambda)
		ltcRate += float64(m.ltcPop[j]) * theta
	}
	lp += poissonLogProb(m.ltcDeaths, ltcRate)
	return lp
}

// initVector starts the chain at crude data-driven rates; the cut
// model sees y as data, so this uses nothing the posterior may not.
func (m *cutModel) initVector() []float64 {
	mm := len(m.y)
	x := make([]float64, 2*mm)
	totalLTC := 0
	for _, n := range m.ltcPop {
		totalLTC += n
	}
	theta0 := clampRate(float64(m.ltcDeaths) / float64(totalLTC+1))
	for j := 0; j < mm; j++ {
		x[j] = math.Log(clampRate(float64(m.deaths[j]) / float64(m.y[j]+1)))
		x[mm+j] = math.Log(theta0)
	}
	return x
}

func clampRate(r float64) float64 {
	return math.Min(math.Max(r, 1e-6), 0.9)
}

func poissonLogProb(k int, lambda float64) float64 {
	if lambda <= 0 {
		if k == 0 {
			return 0
		}
		return math.Inf(-1)
	}
	return distuv.Poisson{Lambda: lambda}.LogProb(float64(k))
}
