package ifr

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"seroifr/internal/data"
	"seroifr/internal/engine"
	"seroifr/internal/poststrat"
)

// Config bounds the propagation stage.
type Config struct {
	Priors   CutPriors
	Controls engine.Controls // short chain per outer draw
	Seed     uint64

	Workers    int
	MaxRetries int

	// DropTolerance is the fraction of outer draws that may fail their
	// secondary run before the whole stage is fatal.
	DropTolerance float64
}

// Propagation defaults: a short adaptive chain per draw, bounded
// retries, and a pool sized to the machine.
func DefaultConfig() Config {
	return Config{
		Priors:        DefaultCutPriors(),
		Controls:      engine.Controls{Chains: 1, Draws: 50, Warmup: 300, StepScale: 0.2},
		Workers:       runtime.GOMAXPROCS(0),
		MaxRetries:    3,
		DropTolerance: 0.05,
	}
}

// Apportionment is the realized LTC/non-LTC death split for one
// (stratum, draw) cell.
type Apportionment struct {
	Infections   int // the draw's infection count, the IFR denominator
	NonLTCDeaths int
	EtaOutside   float64 // IFR outside LTC
	ThetaInside  float64 // death rate inside LTC

	// Undefined marks a zero-infection cell: eta is prior-dominated
	// there and the cell's IFR is excluded from reduction.
	Undefined bool
}

// DeathsDrawSet collects the apportionments for all retained outer
// draws, in draw-id order.
type DeathsDrawSet struct {
	StratumIDs []string
	Deaths     []int // observed total deaths per stratum
	Draws      [][]Apportionment
	Dropped    int // outer draws lost to secondary non-convergence
}

// Propagate runs the secondary apportionment model once per outer
// infection draw. Tasks are keyed by draw id and fully independent;
// results are reassembled by id, so worker count and completion order
// never change the output.
func Propagate(ctx context.Context, sampler engine.Sampler, inf *poststrat.InfectionDrawSet, table *data.StratumTable, cfg Config, logger zerolog.Logger) (*DeathsDrawSet, error) {
	if inf.NumDraws() == 0 {
		return nil, fmt.Errorf("ifr stage: no infection draws")
	}
	if inf.NumStrata() != table.Len() {
		return nil, fmt.Errorf("ifr stage: %d infection strata for %d census strata", inf.NumStrata(), table.Len())
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	deaths := table.Deaths()
	ltcPop := table.LTCPopulations()
	ltcDeaths := table.LTCDeaths()

	results := make([][]Apportionment, inf.NumDraws())
	var dropped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for t := 0; t < inf.NumDraws(); t++ {
		t := t
		g.Go(func() error {
			apps, err := propagateDraw(gctx, sampler, inf.Counts[t], deaths, ltcPop, ltcDeaths, cfg, uint64(t))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				dropped.Add(1)
				logger.Warn().Int("draw", t).Err(err).Msg("ifr: secondary run dropped")
				return nil
			}
			results[t] = apps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	n := inf.NumDraws()
	nd := int(dropped.Load())
	if rate := float64(nd) / float64(n); rate > cfg.DropTolerance {
		return nil, fmt.Errorf("ifr stage: %d of %d secondary runs failed, rate %.3f exceeds tolerance %.3f",
			nd, n, rate, cfg.DropTolerance)
	}

	out := &DeathsDrawSet{StratumIDs: inf.StratumIDs, Deaths: deaths, Dropped: nd}
	for _, apps := range results {
		if apps != nil {
			out.Draws = append(out.Draws, apps)
		}
	}
	logger.Info().
		Int("draws", len(out.Draws)).
		Int("dropped", out.Dropped).
		Int("workers", cfg.Workers).
		Msg("ifr: propagation complete")
	return out, nil
}

// propagateDraw owns a private copy of nothing mutable: every input
// slice is read-only here. One short secondary chain yields one fair
// draw of (eta, theta); the apportioned counts follow from it.
func propagateDraw(ctx context.Context, sampler engine.Sampler, y, deaths, ltcPop []int, ltcDeaths int, cfg Config, id uint64) ([]Apportionment, error) {
	m := &cutModel{y: y, ltcPop: ltcPop, deaths: deaths, ltcDeaths: ltcDeaths, priors: cfg.Priors}
	init := m.initVector()

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ctl := cfg.Controls
		ctl.Seed = taskSeed(cfg.Seed, id, uint64(attempt))
		x, err := sampler.SampleOne(ctx, m, init, ctl)
		if err != nil {
			lastErr = err
			continue
		}
		return realize(y, deaths, x, taskSeed(cfg.Seed, id, uint64(attempt)+0x5151))
	}
	return nil, fmt.Errorf("secondary model failed after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// realize apportions deaths from the single retained draw:
// deaths_nonLTC_j ~ Binomial(y_j, eta_j), capped by the stratum's
// observed deaths.
func realize(y, deaths []int, x []float64, seed uint64) ([]Apportionment, error) {
	mm := len(y)
	rng := rand.New(rand.NewSource(seed))
	apps := make([]Apportionment, mm)
	for j := 0; j < mm; j++ {
		eta := math.Exp(x[j])
		theta := math.Exp(x[mm+j])
		if !isFinite(eta) || !isFinite(theta) {
			return nil, fmt.Errorf("non-finite rates for stratum %d", j)
		}
		app := Apportionment{Infections: y[j], EtaOutside: eta, ThetaInside: theta}
		if y[j] == 0 {
			app.Undefined = true
		} else {
			d := binomial(y[j], math.Min(eta, 1), rng)
			if d > deaths[j] {
				d = deaths[j]
			}
			app.NonLTCDeaths = d
		}
		apps[j] = app
	}
	return apps, nil
}

func binomial(n int, p float64, rng *rand.Rand) int {
	if n <= 0 || p <= 0 {
		return 0
	}
	if p >= 1 {
		return n
	}
	b := distuv.Binomial{N: float64(n), P: p, Src: rng}
	return int(b.Rand())
}

func taskSeed(seed, id, attempt uint64) uint64 {
	z := seed + (id+1)*0x9e3779b97f4a7c15 + (attempt+1)*0xd1342543de82ef95
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
