package data

import (
	"fmt"
)

// Stratum holds one age category of the census: the community
// (non-LTC) population, the long-term-care population, and the
// observed deaths for the category (LTC and non-LTC combined).
type Stratum struct {
	ID            string
	Population    int
	LTCPopulation int
	Deaths        int
}

// StratumTable is an immutable, ordered lookup of census strata plus
// the scalar total of LTC deaths across all strata. Strata partition
// the population exhaustively and disjointly; order is ingestion order
// and fixes the regression reference category (first stratum).
type StratumTable struct {
	strata    []Stratum
	index     map[string]int
	ltcDeaths int
}

// NewStratumTable validates and freezes the census strata. Deaths are
// attached afterwards with WithDeaths.
func NewStratumTable(strata []Stratum) (*StratumTable, error) {
	if len(strata) == 0 {
		return nil, fmt.Errorf("stratum table is empty")
	}
	index := make(map[string]int, len(strata))
	for i, s := range strata {
		if s.ID == "" {
			return nil, fmt.Errorf("stratum[%d] missing id", i)
		}
		if _, dup := index[s.ID]; dup {
			return nil, fmt.Errorf("stratum %q duplicated", s.ID)
		}
		if s.Population < 0 {
			return nil, fmt.Errorf("stratum %q population negative: %d", s.ID, s.Population)
		}
		if s.LTCPopulation < 0 {
			return nil, fmt.Errorf("stratum %q ltc population negative: %d", s.ID, s.LTCPopulation)
		}
		if s.Deaths < 0 {
			return nil, fmt.Errorf("stratum %q deaths negative: %d", s.ID, s.Deaths)
		}
		index[s.ID] = i
	}
	out := make([]Stratum, len(strata))
	copy(out, strata)
	return &StratumTable{strata: out, index: index}, nil
}

// WithDeaths returns a copy of the table with per-stratum deaths and
// the scalar LTC death total attached. Every stratum must appear in
// the deaths map and vice versa.
func (t *StratumTable) WithDeaths(deaths map[string]int, ltcTotal int) (*StratumTable, error) {
	if ltcTotal < 0 {
		return nil, fmt.Errorf("ltc death total negative: %d", ltcTotal)
	}
	if len(deaths) != len(t.strata) {
		return nil, fmt.Errorf("deaths table covers %d strata, census has %d", len(deaths), len(t.strata))
	}
	out := make([]Stratum, len(t.strata))
	copy(out, t.strata)
	for id, d := range deaths {
		i, ok := t.index[id]
		if !ok {
			return nil, fmt.Errorf("deaths table references unknown stratum %q", id)
		}
		if d < 0 {
			return nil, fmt.Errorf("stratum %q deaths negative: %d", id, d)
		}
		out[i].Deaths = d
	}
	index := make(map[string]int, len(t.index))
	for id, i := range t.index {
		index[id] = i
	}
	return &StratumTable{strata: out, index: index, ltcDeaths: ltcTotal}, nil
}

// Len reports the number of strata.
func (t *StratumTable) Len() int { return len(t.strata) }

// At returns the stratum at position i in table order.
func (t *StratumTable) At(i int) Stratum { return t.strata[i] }

// IndexOf resolves a stratum id to its table position.
func (t *StratumTable) IndexOf(id string) (int, bool) {
	i, ok := t.index[id]
	return i, ok
}

// IDs returns the stratum ids in table order.
func (t *StratumTable) IDs() []string {
	ids := make([]string, len(t.strata))
	for i, s := range t.strata {
		ids[i] = s.ID
	}
	return ids
}

// Populations returns the non-LTC census counts in table order.
func (t *StratumTable) Populations() []int {
	out := make([]int, len(t.strata))
	for i, s := range t.strata {
		out[i] = s.Population
	}
	return out
}

// LTCPopulations returns the LTC census counts in table order.
func (t *StratumTable) LTCPopulations() []int {
	out := make([]int, len(t.strata))
	for i, s := range t.strata {
		out[i] = s.LTCPopulation
	}
	return out
}

// Deaths returns the combined death counts in table order.
func (t *StratumTable) Deaths() []int {
	out := make([]int, len(t.strata))
	for i, s := range t.strata {
		out[i] = s.Deaths
	}
	return out
}

// LTCDeaths reports the scalar total of LTC deaths.
func (t *StratumTable) LTCDeaths() int { return t.ltcDeaths }

// TotalPopulation sums the non-LTC census counts.
func (t *StratumTable) TotalPopulation() int {
	n := 0
	for _, s := range t.strata {
		n += s.Population
	}
	return n
}
