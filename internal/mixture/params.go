package mixture

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Latent classes. Naive is uninfected-unvaccinated; the other two are
// named for the exposure that lifts their active titre dimensions.
const (
	ClassNaive = iota
	ClassInfected
	ClassVaccinated
	NumClasses
)

// ClassNames in class index order.
var ClassNames = [NumClasses]string{"naive", "infected", "vaccinated"}

// SignalMap names which titre dimensions carry each exposed class's
// active signal. Dimensions not listed for a class stay at the shared
// baseline location for that class.
type SignalMap struct {
	Infected   []int `toml:"infected"`
	Vaccinated []int `toml:"vaccinated"`
}

// Validate checks the map against the titre dimension.
func (s SignalMap) Validate(dim int) error {
	if len(s.Infected) == 0 {
		return fmt.Errorf("signal map: infected class has no active titre dimension")
	}
	if len(s.Vaccinated) == 0 {
		return fmt.Errorf("signal map: vaccinated class has no active titre dimension")
	}
	for _, set := range [][]int{s.Infected, s.Vaccinated} {
		seen := map[int]bool{}
		for _, d := range set {
			if d < 0 || d >= dim {
				return fmt.Errorf("signal map: titre dimension %d out of range [0,%d)", d, dim)
			}
			if seen[d] {
				return fmt.Errorf("signal map: titre dimension %d repeated", d)
			}
			seen[d] = true
		}
	}
	return nil
}

func (s SignalMap) active(class int) []int {
	switch class {
	case ClassInfected:
		return s.Infected
	case ClassVaccinated:
		return s.Vaccinated
	default:
		return nil
	}
}

// layout maps the unconstrained parameter vector to the model's typed
// parameters. Active-class locations are baseline + exp(gap), which
// bakes in the ordering constraint (baseline strictly below active on
// every shared axis) so component labels cannot permute.
type layout struct {
	dim    int
	sig    SignalMap
	ids    []string // stratum ids, reference first
	npairs int

	offBaseline int
	offGapInf   int
	offGapVax   int
	offScale    int
	offCorr     int
	offDF       int
	offBeta     int
	offRho      int
	total       int
}

func newLayout(dim int, ids []string, sig SignalMap) (*layout, error) {
	if dim < 2 {
		return nil, fmt.Errorf("titre dimension %d below minimum 2", dim)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no strata")
	}
	if err := sig.Validate(dim); err != nil {
		return nil, err
	}
	l := &layout{dim: dim, sig: sig, ids: ids, npairs: dim * (dim - 1) / 2}
	off := 0
	l.offBaseline = off
	off += dim
	l.offGapInf = off
	off += len(sig.Infected)
	l.offGapVax = off
	off += len(sig.Vaccinated)
	l.offScale = off
	off += NumClasses * dim
	l.offCorr = off
	off += NumClasses * l.npairs
	l.offDF = off
	off += NumClasses
	l.offBeta = off
	off += len(ids)
	l.offRho = off
	off++
	l.total = off
	return l, nil
}

func (l *layout) names() []string {
	names := make([]string, 0, l.total)
	for d := 0; d < l.dim; d++ {
		names = append(names, fmt.Sprintf("baseline[%d]", d))
	}
	for _, d := range l.sig.Infected {
		names = append(names, fmt.Sprintf("gap[infected][%d]", d))
	}
	for _, d := range l.sig.Vaccinated {
		names = append(names, fmt.Sprintf("gap[vaccinated][%d]", d))
	}
	for c := 0; c < NumClasses; c++ {
		for d := 0; d < l.dim; d++ {
			names = append(names, fmt.Sprintf("logscale[%s][%d]", ClassNames[c], d))
		}
	}
	for c := 0; c < NumClasses; c++ {
		for p := 0; p < l.npairs; p++ {
			names = append(names, fmt.Sprintf("corr[%s][%d]", ClassNames[c], p))
		}
	}
	for c := 0; c < NumClasses; c++ {
		names = append(names, fmt.Sprintf("logdf[%s]", ClassNames[c]))
	}
	names = append(names, "beta[intercept]")
	for _, id := range l.ids[1:] {
		names = append(names, fmt.Sprintf("beta[%s]", id))
	}
	names = append(names, "rho")
	return names
}

// view is the typed read of one unconstrained parameter vector.
type view struct {
	loc      [NumClasses][]float64
	sigma    [NumClasses]*mat.SymDense
	df       [NumClasses]float64
	beta     []float64
	rhoLogit float64
}

func (l *layout) view(x []float64) view {
	var v view
	baseline := x[l.offBaseline : l.offBaseline+l.dim]
	for c := 0; c < NumClasses; c++ {
		loc := make([]float64, l.dim)
		copy(loc, baseline)
		v.loc[c] = loc
	}
	for i, d := range l.sig.Infected {
		v.loc[ClassInfected][d] += math.Exp(x[l.offGapInf+i])
	}
	for i, d := range l.sig.Vaccinated {
		v.loc[ClassVaccinated][d] += math.Exp(x[l.offGapVax+i])
	}
	for c := 0; c < NumClasses; c++ {
		sd := make([]float64, l.dim)
		for d := 0; d < l.dim; d++ {
			sd[d] = math.Exp(x[l.offScale+c*l.dim+d])
		}
		chol := cholCorr(l.dim, x[l.offCorr+c*l.npairs:l.offCorr+(c+1)*l.npairs])
		v.sigma[c] = scaleMatrix(sd, chol)
		v.df[c] = math.Exp(x[l.offDF+c])
	}
	v.beta = x[l.offBeta : l.offBeta+len(l.ids)]
	v.rhoLogit = x[l.offRho]
	return v
}

// cholCorr maps unconstrained z to the lower Cholesky factor of a
// correlation matrix through tanh partial correlations; the result is
// positive definite for any finite z.
func cholCorr(dim int, z []float64) [][]float64 {
	lower := make([][]float64, dim)
	idx := 0
	for i := 0; i < dim; i++ {
		lower[i] = make([]float64, dim)
		rem := 1.0
		for j := 0; j < i; j++ {
			r := math.Tanh(z[idx])
			idx++
			lower[i][j] = r * math.Sqrt(rem)
			rem -= lower[i][j] * lower[i][j]
		}
		lower[i][i] = math.Sqrt(rem)
	}
	return lower
}

// scaleMatrix composes per-dimension scales with the correlation
// Cholesky factor into the full scale matrix sigma = D C D.
func scaleMatrix(sd []float64, chol [][]float64) *mat.SymDense {
	dim := len(sd)
	sigma := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := 0; j <= i; j++ {
			c := 0.0
			for k := 0; k <= j; k++ {
				c += chol[i][k] * chol[j][k]
			}
			sigma.SetSym(i, j, sd[i]*sd[j]*c)
		}
	}
	return sigma
}

// initVector builds the chain starting point at the prior center.
func (l *layout) initVector(p Priors) []float64 {
	x := make([]float64, l.total)
	for d := 0; d < l.dim; d++ {
		x[l.offBaseline+d] = p.BaselineMean[d]
	}
	for i := range l.sig.Infected {
		x[l.offGapInf+i] = p.GapMean
	}
	for i := range l.sig.Vaccinated {
		x[l.offGapVax+i] = p.GapMean
	}
	for i := 0; i < NumClasses*l.dim; i++ {
		x[l.offScale+i] = p.LogScaleMean
	}
	for c := 0; c < NumClasses; c++ {
		x[l.offDF+c] = p.LogDFMean
	}
	x[l.offRho] = p.RhoLogitMean
	return x
}
