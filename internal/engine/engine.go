package engine

import (
	"context"
	"fmt"
	"math"

	"bitbucket.org/dtolpin/infergo/model"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

// Controls bound one sampling invocation. Seed is mandatory for
// reproducibility; zero values elsewhere fall back to defaults.
type Controls struct {
	Chains        int
	Draws         int // retained draws per chain
	Warmup        int
	Seed          uint64
	StepScale     float64
	RhatThreshold float64
}

// Sampling defaults for one full-chain invocation.
func DefaultControls() Controls {
	return Controls{
		Chains:        4,
		Draws:         500,
		Warmup:        500,
		StepScale:     0.1,
		RhatThreshold: 1.05,
	}
}

// WithDefaults fills zero-value fields from DefaultControls.
func (c Controls) WithDefaults() Controls {
	def := DefaultControls()
	if c.Chains <= 0 {
		c.Chains = def.Chains
	}
	if c.Draws <= 0 {
		c.Draws = def.Draws
	}
	if c.Warmup <= 0 {
		c.Warmup = def.Warmup
	}
	if c.StepScale <= 0 {
		c.StepScale = def.StepScale
	}
	if c.RhatThreshold <= 0 {
		c.RhatThreshold = def.RhatThreshold
	}
	return c
}

// DrawSet holds the retained posterior draws of one invocation.
// Draws is pooled across chains, chain-major; per-chain blocks are
// kept for diagnostics.
type DrawSet struct {
	Names  []string
	Draws  [][]float64
	chains [][][]float64
}

// Len reports the pooled draw count.
func (d *DrawSet) Len() int { return len(d.Draws) }

// Sampler is the stateless sampling service contract: a model
// specification plus data (closed over by the model) and controls in,
// draws out. The pipeline treats implementations as black boxes.
type Sampler interface {
	// Sample runs full chains and fails with ConvergenceError when
	// mixing diagnostics reject the run.
	Sample(ctx context.Context, m model.Model, init []float64, names []string, ctl Controls) (*DrawSet, error)

	// SampleOne runs one short chain and returns the single state
	// reached after the warmup prefix.
	SampleOne(ctx context.Context, m model.Model, init []float64, ctl Controls) ([]float64, error)
}

// MH is the built-in sampler: adaptive random-walk Metropolis with
// per-coordinate proposals. Step sizes adapt during warmup only, so
// retained draws come from a fixed kernel.
type MH struct{}

var _ Sampler = MH{}

// Sample runs ctl.Chains independent chains from init and pools their
// retained draws. Chains run concurrently; chain c derives its seed
// from ctl.Seed and c, so results do not depend on scheduling.
func (MH) Sample(ctx context.Context, m model.Model, init []float64, names []string, ctl Controls) (*DrawSet, error) {
	ctl = ctl.WithDefaults()
	if len(names) != len(init) {
		return nil, fmt.Errorf("engine: %d parameter names for %d parameters", len(names), len(init))
	}
	chains := make([][][]float64, ctl.Chains)
	g, gctx := errgroup.WithContext(ctx)
	for c := 0; c < ctl.Chains; c++ {
		c := c
		g.Go(func() error {
			ch, err := newChain(m, init, ctl.StepScale, chainSeed(ctl.Seed, uint64(c)))
			if err != nil {
				return err
			}
			draws, err := ch.run(gctx, ctl.Warmup, ctl.Draws)
			if err != nil {
				return err
			}
			chains[c] = draws
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ds := &DrawSet{Names: names, chains: chains}
	for _, ch := range chains {
		ds.Draws = append(ds.Draws, ch...)
	}
	if err := checkMixing(ds, ctl.RhatThreshold); err != nil {
		return nil, err
	}
	return ds, nil
}

// SampleOne advances a single chain through ctl.Warmup adaptive sweeps
// plus ctl.Draws fixed-kernel sweeps and returns the final state only.
func (MH) SampleOne(ctx context.Context, m model.Model, init []float64, ctl Controls) ([]float64, error) {
	ctl = ctl.WithDefaults()
	ch, err := newChain(m, init, ctl.StepScale, chainSeed(ctl.Seed, 0))
	if err != nil {
		return nil, err
	}
	for s := 0; s < ctl.Warmup; s++ {
		if s%64 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ch.sweep(true)
	}
	for s := 0; s < ctl.Draws; s++ {
		ch.sweep(false)
	}
	if !isFinite(ch.ll) {
		return nil, fmt.Errorf("engine: non-finite log posterior after warmup")
	}
	if ch.accepted == 0 {
		return nil, fmt.Errorf("engine: chain never accepted a proposal")
	}
	out := make([]float64, len(ch.x))
	copy(out, ch.x)
	return out, nil
}

func chainSeed(seed, c uint64) uint64 {
	// splitmix step keeps per-chain streams far apart.
	z := seed + (c+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

type chain struct {
	m    model.Model
	x    []float64
	ll   float64
	step []float64
	rng  *rand.Rand

	accepted int
	proposed int

	// per-coordinate acceptance window for warmup adaptation
	winAcc []int
	winLen int
}

func newChain(m model.Model, init []float64, stepScale float64, seed uint64) (*chain, error) {
	if len(init) == 0 {
		return nil, fmt.Errorf("engine: empty initial state")
	}
	x := make([]float64, len(init))
	copy(x, init)
	ll := m.Observe(x)
	if !isFinite(ll) {
		return nil, fmt.Errorf("engine: initial state has zero posterior mass")
	}
	step := make([]float64, len(x))
	for i := range step {
		step[i] = stepScale
	}
	return &chain{
		m:      m,
		x:      x,
		ll:     ll,
		step:   step,
		rng:    rand.New(rand.NewSource(seed)),
		winAcc: make([]int, len(x)),
	}, nil
}

// sweep proposes one Metropolis update per coordinate. During warmup
// (adapt=true) step sizes are tuned toward the 0.44 single-site
// acceptance target every 50 sweeps.
func (c *chain) sweep(adapt bool) {
	for i := range c.x {
		old := c.x[i]
		c.x[i] = old + c.step[i]*c.rng.NormFloat64()
		llNew := c.m.Observe(c.x)
		c.proposed++
		if isFinite(llNew) && math.Log(c.rng.Float64()) < llNew-c.ll {
			c.ll = llNew
			c.accepted++
			c.winAcc[i]++
		} else {
			c.x[i] = old
		}
	}
	if !adapt {
		return
	}
	c.winLen++
	if c.winLen < 50 {
		return
	}
	for i := range c.step {
		rate := float64(c.winAcc[i]) / float64(c.winLen)
		switch {
		case rate < 0.24:
			c.step[i] *= 0.8
		case rate > 0.54:
			c.step[i] *= 1.25
		}
		c.winAcc[i] = 0
	}
	c.winLen = 0
}

func (c *chain) run(ctx context.Context, warmup, draws int) ([][]float64, error) {
	for s := 0; s < warmup; s++ {
		if s%64 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.sweep(true)
	}
	out := make([][]float64, 0, draws)
	for s := 0; s < draws; s++ {
		if s%64 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.sweep(false)
		draw := make([]float64, len(c.x))
		copy(draw, c.x)
		out = append(out, draw)
	}
	if c.accepted == 0 {
		return nil, fmt.Errorf("engine: chain never accepted a proposal")
	}
	return out, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
