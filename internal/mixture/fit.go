package mixture

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"seroifr/internal/data"
	"seroifr/internal/engine"
)

// Config bounds one mixture fit.
type Config struct {
	Signal   SignalMap
	Priors   Priors
	Controls engine.Controls

	// LabelToleranceSD is the post-fit identification window: a
	// location-fixing parameter whose posterior mean sits more than
	// this many prior standard deviations from its prior mean is
	// treated as label-switching residue.
	LabelToleranceSD float64
}

// DefaultConfig for a titre vector of the given dimension: dimension 0
// carries the infection signal, dimension 1 the vaccination signal.
func DefaultConfig(dim int) Config {
	return Config{
		Signal:           SignalMap{Infected: []int{0}, Vaccinated: []int{1}},
		Priors:           DefaultPriors(dim),
		Controls:         engine.DefaultControls(),
		LabelToleranceSD: 5,
	}
}

// Draw is one joint posterior realization, unpacked.
type Draw struct {
	Locations    [NumClasses][]float64
	Scales       [NumClasses]*mat.SymDense
	DF           [NumClasses]float64
	Beta         []float64
	Rho          float64
	StratumProb  []float64             // regression-implied infection probability per stratum
	ClassLogProb [][NumClasses]float64 // per-participant latent-class posterior log-probability
}

// Posterior is the full set of unpacked posterior draws. Draws are
// exchangeable; downstream stages consume them read-only.
type Posterior struct {
	StratumIDs []string
	Names      []string
	Draws      []Draw
}

// IdentificationError reports label-switching residue: the ordering
// constraint left a location parameter grossly inconsistent with its
// prior. A configuration error for the caller, never auto-corrected.
type IdentificationError struct {
	Param         string
	PosteriorMean float64
	PriorMean     float64
	PriorSD       float64
	ToleranceSD   float64
}

func (e *IdentificationError) Error() string {
	return fmt.Sprintf(
		"mixture: label identification check failed: %s posterior mean %.3f outside %.1f prior sd of %.3f (sd %.3f)",
		e.Param, e.PosteriorMean, e.ToleranceSD, e.PriorMean, e.PriorSD)
}

// Fit submits the joint model to the sampling engine and unpacks the
// resulting draws. Engine convergence failure and identification
// failure are both fatal to the run.
func Fit(ctx context.Context, sampler engine.Sampler, ds *data.Dataset, table *data.StratumTable, cfg Config, logger zerolog.Logger) (*Posterior, error) {
	if err := cfg.Priors.Validate(ds.Dim()); err != nil {
		return nil, err
	}
	lay, err := newLayout(ds.Dim(), table.IDs(), cfg.Signal)
	if err != nil {
		return nil, err
	}
	design, err := data.ParticipantDesign(ds, table)
	if err != nil {
		return nil, err
	}
	census := data.CensusDesign(table)

	titres := make([][]float64, ds.Len())
	for i := range titres {
		titres[i] = ds.At(i).Titres
	}
	m := newModel(lay, cfg.Priors, titres, design)

	logger.Info().
		Int("participants", ds.Len()).
		Int("strata", table.Len()).
		Int("parameters", lay.total).
		Msg("mixture: submitting joint model")

	raw, err := sampler.Sample(ctx, m, lay.initVector(cfg.Priors), lay.names(), cfg.Controls)
	if err != nil {
		return nil, fmt.Errorf("mixture stage: %w", err)
	}
	if err := checkIdentification(raw, lay, cfg.Priors, cfg.LabelToleranceSD); err != nil {
		return nil, err
	}

	post := &Posterior{StratumIDs: table.IDs(), Names: raw.Names}
	post.Draws = make([]Draw, raw.Len())
	for t, x := range raw.Draws {
		d, err := unpackDraw(lay, x, census, titres, design)
		if err != nil {
			return nil, fmt.Errorf("mixture stage: draw %d: %w", t, err)
		}
		post.Draws[t] = d
	}
	logger.Info().Int("draws", len(post.Draws)).Msg("mixture: fit complete")
	return post, nil
}

func unpackDraw(lay *layout, x []float64, census *mat.Dense, titres [][]float64, design *mat.Dense) (Draw, error) {
	v := lay.view(x)
	comps, err := components(v)
	if err != nil {
		return Draw{}, err
	}

	d := Draw{DF: v.df, Rho: Expit(v.rhoLogit)}
	for c := 0; c < NumClasses; c++ {
		d.Locations[c] = v.loc[c]
		d.Scales[c] = v.sigma[c]
	}
	d.Beta = make([]float64, len(v.beta))
	copy(d.Beta, v.beta)

	rows, _ := census.Dims()
	d.StratumProb = make([]float64, rows)
	for j := 0; j < rows; j++ {
		d.StratumProb[j] = Expit(floats.Dot(census.RawRowView(j), v.beta))
	}

	d.ClassLogProb = make([][NumClasses]float64, len(titres))
	var lps [NumClasses]float64
	for i, w := range titres {
		lwNaive, lwInf, lwVax := classLogWeights(design.RawRowView(i), v.beta, v.rhoLogit)
		lps[ClassNaive] = lwNaive + comps[ClassNaive].LogProb(w)
		lps[ClassInfected] = lwInf + comps[ClassInfected].LogProb(w)
		lps[ClassVaccinated] = lwVax + comps[ClassVaccinated].LogProb(w)
		total := floats.LogSumExp(lps[:])
		for c := 0; c < NumClasses; c++ {
			d.ClassLogProb[i][c] = lps[c] - total
		}
	}
	return d, nil
}

// checkIdentification compares the posterior mean of every
// location-fixing parameter (baselines, gaps, rho) against its prior.
// Gross disagreement means the ordering constraint did not resolve the
// component labels.
func checkIdentification(raw *engine.DrawSet, lay *layout, p Priors, tolSD float64) error {
	if tolSD <= 0 {
		tolSD = 5
	}
	check := func(idx int, priorMean, priorSD float64) error {
		mean := 0.0
		for _, x := range raw.Draws {
			mean += x[idx]
		}
		mean /= float64(raw.Len())
		if math.Abs(mean-priorMean) > tolSD*priorSD {
			return &IdentificationError{
				Param:         raw.Names[idx],
				PosteriorMean: mean,
				PriorMean:     priorMean,
				PriorSD:       priorSD,
				ToleranceSD:   tolSD,
			}
		}
		return nil
	}
	for d := 0; d < lay.dim; d++ {
		if err := check(lay.offBaseline+d, p.BaselineMean[d], p.BaselineSD); err != nil {
			return err
		}
	}
	for i := range lay.sig.Infected {
		if err := check(lay.offGapInf+i, p.GapMean, p.GapSD); err != nil {
			return err
		}
	}
	for i := range lay.sig.Vaccinated {
		if err := check(lay.offGapVax+i, p.GapMean, p.GapSD); err != nil {
			return err
		}
	}
	return check(lay.offRho, p.RhoLogitMean, p.RhoLogitSD)
}
