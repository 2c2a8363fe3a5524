package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ParamDiag is one parameter's mixing diagnostic.
type ParamDiag struct {
	Name string
	Rhat float64
}

// ConvergenceError reports a failed full-chain run, naming the
// parameters with the worst split-Rhat. Fatal for the caller: draws
// from a non-mixing run must not reach downstream stages.
type ConvergenceError struct {
	Threshold float64
	Worst     []ParamDiag
}

func (e *ConvergenceError) Error() string {
	parts := make([]string, 0, len(e.Worst))
	for _, d := range e.Worst {
		parts = append(parts, fmt.Sprintf("%s rhat=%.3f", d.Name, d.Rhat))
	}
	return fmt.Sprintf("engine: poor mixing (threshold %.3f): %s", e.Threshold, strings.Join(parts, ", "))
}

// checkMixing computes split-Rhat per parameter over the per-chain
// draw blocks and rejects the run when any exceeds the threshold.
func checkMixing(ds *DrawSet, threshold float64) error {
	if len(ds.chains) == 0 || len(ds.chains[0]) == 0 {
		return fmt.Errorf("engine: no draws to diagnose")
	}
	nparam := len(ds.chains[0][0])
	var worst []ParamDiag
	for p := 0; p < nparam; p++ {
		r := splitRhat(ds.chains, p)
		if r > threshold {
			worst = append(worst, ParamDiag{Name: ds.Names[p], Rhat: r})
		}
	}
	if len(worst) == 0 {
		return nil
	}
	sort.Slice(worst, func(i, j int) bool { return worst[i].Rhat > worst[j].Rhat })
	if len(worst) > 5 {
		worst = worst[:5]
	}
	return &ConvergenceError{Threshold: threshold, Worst: worst}
}

// splitRhat is the potential scale reduction factor with each chain
// split in half, computed for parameter index p.
func splitRhat(chains [][][]float64, p int) float64 {
	var halves [][]float64
	for _, ch := range chains {
		n := len(ch) / 2
		if n < 2 {
			continue
		}
		a := make([]float64, n)
		b := make([]float64, n)
		for i := 0; i < n; i++ {
			a[i] = ch[i][p]
			b[i] = ch[len(ch)-n+i][p]
		}
		halves = append(halves, a, b)
	}
	if len(halves) < 2 {
		return 1
	}

	n := float64(len(halves[0]))
	m := float64(len(halves))
	means := make([]float64, len(halves))
	variances := make([]float64, len(halves))
	for i, h := range halves {
		mu := 0.0
		for _, v := range h {
			mu += v
		}
		mu /= n
		s2 := 0.0
		for _, v := range h {
			s2 += (v - mu) * (v - mu)
		}
		means[i] = mu
		variances[i] = s2 / (n - 1)
	}
	grand := 0.0
	for _, mu := range means {
		grand += mu
	}
	grand /= m
	between := 0.0
	for _, mu := range means {
		between += (mu - grand) * (mu - grand)
	}
	between *= n / (m - 1)
	within := 0.0
	for _, v := range variances {
		within += v
	}
	within /= m
	if within == 0 {
		// Constant draws in every half-chain: a pinned parameter, not
		// a mixing failure.
		return 1
	}
	varPlus := (n-1)/n*within + between/n
	return math.Sqrt(varPlus / within)
}

// EffectiveSize estimates the effective sample size of parameter p
// from pooled draws via initial positive sequence autocorrelations.
func EffectiveSize(ds *DrawSet, p int) float64 {
	n := len(ds.Draws)
	if n < 4 {
		return float64(n)
	}
	x := make([]float64, n)
	mu := 0.0
	for i, d := range ds.Draws {
		x[i] = d[p]
		mu += d[p]
	}
	mu /= float64(n)
	var c0 float64
	for _, v := range x {
		c0 += (v - mu) * (v - mu)
	}
	c0 /= float64(n)
	if c0 == 0 {
		return float64(n)
	}
	sum := 0.0
	for lag := 1; lag < n/2; lag++ {
		var ck float64
		for i := 0; i+lag < n; i++ {
			ck += (x[i] - mu) * (x[i+lag] - mu)
		}
		ck /= float64(n)
		rho := ck / c0
		if rho <= 0 {
			break
		}
		sum += rho
	}
	return float64(n) / (1 + 2*sum)
}
