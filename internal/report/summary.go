// Package report reduces per-draw quantities to median and credible
// interval tables for incidence and IFR.
package report

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"seroifr/internal/ifr"
	"seroifr/internal/poststrat"
)

// Quantiles name the credible interval bounds.
type Quantiles struct {
	Lo float64 `toml:"lo"`
	Hi float64 `toml:"hi"`
}

// DefaultQuantiles is the 95% interval.
func DefaultQuantiles() Quantiles { return Quantiles{Lo: 0.025, Hi: 0.975} }

// Validate checks the interval bounds.
func (q Quantiles) Validate() error {
	if q.Lo <= 0 || q.Hi >= 1 || q.Lo >= q.Hi {
		return fmt.Errorf("report: quantiles (%g, %g) must satisfy 0 < lo < hi < 1", q.Lo, q.Hi)
	}
	return nil
}

// Cell is one reduced quantity: a median with an interval, in percent.
// Undefined marks a cell whose draws were all excluded (for IFR, a
// stratum with zero infections in every retained draw).
type Cell struct {
	Median    float64
	Lo        float64
	Hi        float64
	Undefined bool
	Excluded  int // draws excluded from this cell's reduction
}

// Row pairs a label (Overall or a stratum id) with its cell.
type Row struct {
	Label string
	Cell  Cell
}

// Summary is the reduced output of one pipeline run.
type Summary struct {
	Q         Quantiles
	Incidence []Row
	IFR       []Row
	Notes     []string
}

// Reduce computes the incidence and IFR tables. Both reductions are
// pure functions of the draw sets: permuting draw order cannot change
// any quantile.
func Reduce(inf *poststrat.InfectionDrawSet, deaths *ifr.DeathsDrawSet, q Quantiles) (*Summary, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if inf.NumDraws() == 0 {
		return nil, fmt.Errorf("report: no infection draws")
	}
	if len(deaths.StratumIDs) != inf.NumStrata() {
		return nil, fmt.Errorf("report: %d death strata for %d infection strata", len(deaths.StratumIDs), inf.NumStrata())
	}
	s := &Summary{Q: q}

	// Incidence: overall first, then per stratum.
	totalPop := 0
	for _, n := range inf.Populations {
		totalPop += n
	}
	overall := make([]float64, inf.NumDraws())
	for t := range inf.Counts {
		overall[t] = 100 * float64(inf.OverallCount(t)) / float64(totalPop)
	}
	s.Incidence = append(s.Incidence, Row{Label: "Overall", Cell: reduceDraws(overall, 0, q)})
	for j, id := range inf.StratumIDs {
		draws := make([]float64, inf.NumDraws())
		for t := range inf.Counts {
			draws[t] = 100 * float64(inf.Counts[t][j]) / float64(inf.Populations[j])
		}
		s.Incidence = append(s.Incidence, Row{Label: id, Cell: reduceDraws(draws, 0, q)})
	}

	// IFR: undefined cells are excluded draw by draw, never coerced.
	var overallIFR []float64
	overallExcluded := 0
	for _, apps := range deaths.Draws {
		num, den := 0, 0
		for _, app := range apps {
			num += app.NonLTCDeaths
			den += app.Infections
		}
		if den == 0 {
			overallExcluded++
			continue
		}
		overallIFR = append(overallIFR, 100*float64(num)/float64(den))
	}
	s.IFR = append(s.IFR, Row{Label: "Overall", Cell: reduceDraws(overallIFR, overallExcluded, q)})
	for j, id := range deaths.StratumIDs {
		var draws []float64
		excluded := 0
		for _, apps := range deaths.Draws {
			app := apps[j]
			if app.Undefined {
				excluded++
				continue
			}
			draws = append(draws, 100*float64(app.NonLTCDeaths)/float64(app.Infections))
		}
		s.IFR = append(s.IFR, Row{Label: id, Cell: reduceDraws(draws, excluded, q)})
	}

	if deaths.Dropped > 0 {
		s.Notes = append(s.Notes, fmt.Sprintf("%d posterior draws dropped: secondary model did not converge", deaths.Dropped))
	}
	for _, row := range s.IFR {
		if row.Cell.Excluded > 0 {
			s.Notes = append(s.Notes, fmt.Sprintf("%s: %d draws excluded from IFR (zero-infection draws)", row.Label, row.Cell.Excluded))
		}
	}
	return s, nil
}

func reduceDraws(draws []float64, excluded int, q Quantiles) Cell {
	if len(draws) == 0 {
		return Cell{Undefined: true, Excluded: excluded}
	}
	sorted := make([]float64, len(draws))
	copy(sorted, draws)
	sort.Float64s(sorted)
	return Cell{
		Median:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Lo:       stat.Quantile(q.Lo, stat.Empirical, sorted, nil),
		Hi:       stat.Quantile(q.Hi, stat.Empirical, sorted, nil),
		Excluded: excluded,
	}
}
