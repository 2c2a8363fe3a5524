package data

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ParticipantDesign builds the regression design matrix for the survey:
// one row per participant, an intercept column, and one dummy column
// per non-reference stratum. The first stratum in table order is the
// reference category.
func ParticipantDesign(ds *Dataset, table *StratumTable) (*mat.Dense, error) {
	cols := table.Len()
	x := mat.NewDense(ds.Len(), cols, nil)
	for i := 0; i < ds.Len(); i++ {
		j, ok := table.IndexOf(ds.At(i).Stratum)
		if !ok {
			return nil, fmt.Errorf("participant[%d] references unknown stratum %q", i, ds.At(i).Stratum)
		}
		x.Set(i, 0, 1)
		if j > 0 {
			x.Set(i, j, 1)
		}
	}
	return x, nil
}

// CensusDesign builds the poststratification design matrix: one row
// per census stratum, same column layout as ParticipantDesign.
func CensusDesign(table *StratumTable) *mat.Dense {
	cols := table.Len()
	x := mat.NewDense(table.Len(), cols, nil)
	for j := 0; j < table.Len(); j++ {
		x.Set(j, 0, 1)
		if j > 0 {
			x.Set(j, j, 1)
		}
	}
	return x
}
