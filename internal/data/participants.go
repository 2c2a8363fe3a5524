package data

import (
	"fmt"
	"math"
)

// Participant is one survey subject: an age stratum and a log-scale
// antibody titre vector of fixed dimension.
type Participant struct {
	Stratum string
	Titres  []float64
}

// Dataset is the validated participant collection consumed by the
// mixture likelihood. Titre dimension is constant across records and
// at least 2; every stratum id resolves against the census table.
type Dataset struct {
	participants []Participant
	dim          int
}

// NewDataset validates participant records against the census table.
func NewDataset(records []Participant, table *StratumTable) (*Dataset, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("participant dataset is empty")
	}
	dim := len(records[0].Titres)
	if dim < 2 {
		return nil, fmt.Errorf("titre dimension %d below minimum 2", dim)
	}
	out := make([]Participant, len(records))
	for i, r := range records {
		if len(r.Titres) != dim {
			return nil, fmt.Errorf("participant[%d] titre dimension %d, expected %d", i, len(r.Titres), dim)
		}
		for j, v := range r.Titres {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("participant[%d] titre_%d not finite", i, j+1)
			}
		}
		if _, ok := table.IndexOf(r.Stratum); !ok {
			return nil, fmt.Errorf("participant[%d] references unknown stratum %q", i, r.Stratum)
		}
		titres := make([]float64, dim)
		copy(titres, r.Titres)
		out[i] = Participant{Stratum: r.Stratum, Titres: titres}
	}
	return &Dataset{participants: out, dim: dim}, nil
}

// Len reports the number of participants.
func (d *Dataset) Len() int { return len(d.participants) }

// Dim reports the titre vector dimension.
func (d *Dataset) Dim() int { return d.dim }

// At returns the participant at position i.
func (d *Dataset) At(i int) Participant { return d.participants[i] }
