// Package poststrat projects survey-level infection probabilities onto
// the census age distribution, realizing count-level infection draws.
package poststrat

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"seroifr/internal/data"
	"seroifr/internal/mixture"
)

// InfectionDrawSet holds one realized infection count per (draw,
// stratum): Counts[t][j] for posterior draw t and stratum j, with
// 0 <= Counts[t][j] <= Populations[j].
type InfectionDrawSet struct {
	StratumIDs  []string
	Populations []int
	Counts      [][]int
}

// NumDraws reports the number of posterior draws.
func (s *InfectionDrawSet) NumDraws() int { return len(s.Counts) }

// NumStrata reports the number of strata.
func (s *InfectionDrawSet) NumStrata() int { return len(s.StratumIDs) }

// OverallCount sums draw t across strata. Downstream consumers use
// this sum rather than re-aggregating, so overall and per-stratum
// figures always describe the same realization.
func (s *InfectionDrawSet) OverallCount(t int) int {
	n := 0
	for _, y := range s.Counts[t] {
		n += y
	}
	return n
}

// Realize draws Y_tj ~ Binomial(n_j, p_tj) for every posterior draw
// and stratum. Each draw derives its own stream from the seed and the
// draw id, so realizations do not depend on iteration order.
func Realize(post *mixture.Posterior, table *data.StratumTable, seed uint64, logger zerolog.Logger) (*InfectionDrawSet, error) {
	if len(post.Draws) == 0 {
		return nil, fmt.Errorf("poststrat: no posterior draws")
	}
	out := &InfectionDrawSet{
		StratumIDs:  table.IDs(),
		Populations: table.Populations(),
		Counts:      make([][]int, len(post.Draws)),
	}
	for t, d := range post.Draws {
		if len(d.StratumProb) != table.Len() {
			return nil, fmt.Errorf("poststrat: draw %d has %d stratum probabilities, expected %d",
				t, len(d.StratumProb), table.Len())
		}
		rng := rand.New(rand.NewSource(drawSeed(seed, uint64(t))))
		counts := make([]int, table.Len())
		for j, p := range d.StratumProb {
			counts[j] = binomial(out.Populations[j], p, rng)
		}
		out.Counts[t] = counts
	}
	logger.Info().
		Int("draws", out.NumDraws()).
		Int("strata", out.NumStrata()).
		Msg("poststrat: infection counts realized")
	return out, nil
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

func drawSeed(seed, t uint64) uint64 {
	z := seed + (t+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
