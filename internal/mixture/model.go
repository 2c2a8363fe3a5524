package mixture

import (
	"fmt"
	"math"

	"bitbucket.org/dtolpin/infergo/dist"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Model is the probabilistic program for the joint mixture and
// regression posterior. Observe returns the log posterior density at
// an unconstrained parameter vector; the engine treats it as opaque.
type Model struct {
	lay    *layout
	priors Priors
	titres [][]float64
	design *mat.Dense
}

func newModel(lay *layout, priors Priors, titres [][]float64, design *mat.Dense) *Model {
	return &Model{lay: lay, priors: priors, titres: titres, design: design}
}

// Observe computes, for every participant, the log-sum-exp over the
// three latent classes of log class weight plus multivariate Student-t
// log density, and adds the prior terms.
func (m *Model) Observe(x []float64) float64 {
	lp := m.logPrior(x)
	v := m.lay.view(x)
	comps, err := components(v)
	if err != nil {
		return math.Inf(-1)
	}

	var lps [NumClasses]float64
	for i, w := range m.titres {
		lwNaive, lwInf, lwVax := classLogWeights(m.design.RawRowView(i), v.beta, v.rhoLogit)
		lps[ClassNaive] = lwNaive + comps[ClassNaive].LogProb(w)
		lps[ClassInfected] = lwInf + comps[ClassInfected].LogProb(w)
		lps[ClassVaccinated] = lwVax + comps[ClassVaccinated].LogProb(w)
		lp += floats.LogSumExp(lps[:])
	}
	return lp
}

func (m *Model) logPrior(x []float64) float64 {
	l, p := m.lay, m.priors
	lp := 0.0
	for d := 0; d < l.dim; d++ {
		lp += dist.Normal.Logp(p.BaselineMean[d], p.BaselineSD, x[l.offBaseline+d])
	}
	lp += dist.Normal.Logps(p.GapMean, p.GapSD, x[l.offGapInf:l.offGapInf+len(l.sig.Infected)]...)
	lp += dist.Normal.Logps(p.GapMean, p.GapSD, x[l.offGapVax:l.offGapVax+len(l.sig.Vaccinated)]...)
	lp += dist.Normal.Logps(p.LogScaleMean, p.LogScaleSD, x[l.offScale:l.offScale+NumClasses*l.dim]...)
	if l.npairs > 0 {
		lp += dist.Normal.Logps(0, p.CorrZSD, x[l.offCorr:l.offCorr+NumClasses*l.npairs]...)
	}
	lp += dist.Normal.Logps(p.LogDFMean, p.LogDFSD, x[l.offDF:l.offDF+NumClasses]...)
	lp += dist.Normal.Logps(0, p.BetaSD, x[l.offBeta:l.offBeta+len(l.ids)]...)
	lp += dist.Normal.Logp(p.RhoLogitMean, p.RhoLogitSD, x[l.offRho])
	return lp
}

// components builds the three Student-t emission densities for one
// parameter view.
func components(v view) ([NumClasses]*distmv.StudentsT, error) {
	var comps [NumClasses]*distmv.StudentsT
	for c := 0; c < NumClasses; c++ {
		st, ok := distmv.NewStudentsT(v.loc[c], v.sigma[c], v.df[c], nil)
		if !ok {
			return comps, fmt.Errorf("mixture: scale matrix for class %s not positive definite", ClassNames[c])
		}
		comps[c] = st
	}
	return comps, nil
}

// classLogWeights computes the log mixing weights for one participant
// row: infection probability from the regression, vaccination rate rho
// among the non-infected.
func classLogWeights(row, beta []float64, rhoLogit float64) (lwNaive, lwInf, lwVax float64) {
	z := floats.Dot(row, beta)
	lwInf = logExpit(z)
	lwNot := logExpit(-z)
	lwVax = lwNot + logExpit(rhoLogit)
	lwNaive = lwNot + logExpit(-rhoLogit)
	return lwNaive, lwInf, lwVax
}

// logExpit is log(1/(1+exp(-z))), stable for large |z|.
func logExpit(z float64) float64 {
	if z < 0 {
		return z - math.Log1p(math.Exp(z))
	}
	return -math.Log1p(math.Exp(-z))
}

// Expit is the inverse logit.
func Expit(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
