package data

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"seroifr/internal/testutil/testlog"
)

func testTable(t *testing.T) *StratumTable {
	t.Helper()
	table, err := NewStratumTable([]Stratum{
		{ID: "0-19", Population: 1000, LTCPopulation: 0},
		{ID: "20-49", Population: 900, LTCPopulation: 10},
		{ID: "50+", Population: 500, LTCPopulation: 40},
	})
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	return table
}

func TestNewStratumTableValidation(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		strata  []Stratum
		wantErr string
	}{
		{name: "empty", strata: nil, wantErr: "empty"},
		{name: "missing id", strata: []Stratum{{ID: ""}}, wantErr: "missing id"},
		{name: "duplicate id", strata: []Stratum{{ID: "a"}, {ID: "a"}}, wantErr: "duplicated"},
		{name: "negative population", strata: []Stratum{{ID: "a", Population: -1}}, wantErr: "negative"},
		{name: "negative ltc", strata: []Stratum{{ID: "a", LTCPopulation: -2}}, wantErr: "negative"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewStratumTable(tc.strata)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestWithDeaths(t *testing.T) {
	testlog.Start(t)
	table := testTable(t)
	withDeaths, err := table.WithDeaths(map[string]int{"0-19": 1, "20-49": 5, "50+": 90}, 60)
	if err != nil {
		t.Fatalf("attach deaths: %v", err)
	}
	if got := withDeaths.Deaths(); got[2] != 90 {
		t.Fatalf("expected 90 deaths in 50+, got %d", got[2])
	}
	if withDeaths.LTCDeaths() != 60 {
		t.Fatalf("expected 60 ltc deaths, got %d", withDeaths.LTCDeaths())
	}
	// Original table stays untouched.
	if table.Deaths()[2] != 0 || table.LTCDeaths() != 0 {
		t.Fatalf("source table mutated by WithDeaths")
	}
	if _, err := table.WithDeaths(map[string]int{"0-19": 1, "20-49": 5, "80+": 2}, 0); err == nil {
		t.Fatalf("expected unknown stratum error")
	}
	if _, err := table.WithDeaths(map[string]int{"0-19": 1}, 0); err == nil {
		t.Fatalf("expected coverage error")
	}
}

func TestNewDatasetValidation(t *testing.T) {
	testlog.Start(t)
	table := testTable(t)
	tests := []struct {
		name    string
		records []Participant
		wantErr string
	}{
		{name: "empty", records: nil, wantErr: "empty"},
		{
			name:    "dimension below 2",
			records: []Participant{{Stratum: "0-19", Titres: []float64{1}}},
			wantErr: "below minimum",
		},
		{
			name: "ragged dimensions",
			records: []Participant{
				{Stratum: "0-19", Titres: []float64{1, 2}},
				{Stratum: "0-19", Titres: []float64{1, 2, 3}},
			},
			wantErr: "titre dimension",
		},
		{
			name:    "unknown stratum",
			records: []Participant{{Stratum: "99+", Titres: []float64{1, 2}}},
			wantErr: "unknown stratum",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDataset(tc.records, table)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDesignMatrices(t *testing.T) {
	testlog.Start(t)
	table := testTable(t)
	ds, err := NewDataset([]Participant{
		{Stratum: "20-49", Titres: []float64{0.1, -0.2}},
		{Stratum: "0-19", Titres: []float64{1.1, 0.4}},
		{Stratum: "50+", Titres: []float64{2.0, 1.5}},
	}, table)
	if err != nil {
		t.Fatalf("build dataset: %v", err)
	}
	x, err := ParticipantDesign(ds, table)
	if err != nil {
		t.Fatalf("participant design: %v", err)
	}
	r, c := x.Dims()
	if r != 3 || c != 3 {
		t.Fatalf("participant design dims = %dx%d, expected 3x3", r, c)
	}
	// Reference category (first stratum) has the intercept only.
	if x.At(1, 0) != 1 || x.At(1, 1) != 0 || x.At(1, 2) != 0 {
		t.Fatalf("reference row malformed: %v %v %v", x.At(1, 0), x.At(1, 1), x.At(1, 2))
	}
	if x.At(0, 1) != 1 || x.At(2, 2) != 1 {
		t.Fatalf("dummy columns malformed")
	}

	ps := CensusDesign(table)
	r, c = ps.Dims()
	if r != 3 || c != 3 {
		t.Fatalf("census design dims = %dx%d, expected 3x3", r, c)
	}
	for j := 0; j < 3; j++ {
		if ps.At(j, 0) != 1 {
			t.Fatalf("census row %d missing intercept", j)
		}
	}
	if ps.At(0, 1) != 0 || ps.At(1, 1) != 1 || ps.At(2, 2) != 1 {
		t.Fatalf("census dummies malformed")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadParticipants(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "participants.csv",
		"stratum,titre_1,titre_2\n0-19,0.5,-0.25\n50+,2.25,1.5\n")
	got, err := LoadParticipants(path)
	if err != nil {
		t.Fatalf("load participants: %v", err)
	}
	if len(got) != 2 || got[1].Stratum != "50+" || got[1].Titres[0] != 2.25 {
		t.Fatalf("unexpected participants: %+v", got)
	}

	bad := writeFile(t, "bad.csv", "stratum,titer_1,titre_2\n0-19,0.5,1\n")
	if _, err := LoadParticipants(bad); err == nil {
		t.Fatalf("expected header error")
	}
}

func TestLoadStrataAndDeaths(t *testing.T) {
	testlog.Start(t)
	spath := writeFile(t, "strata.csv",
		"stratum,population,ltc_population\n0-19,1000,0\n50+,500,40\n")
	strata, err := LoadStrata(spath)
	if err != nil {
		t.Fatalf("load strata: %v", err)
	}
	if len(strata) != 2 || strata[1].LTCPopulation != 40 {
		t.Fatalf("unexpected strata: %+v", strata)
	}

	dpath := writeFile(t, "deaths.csv", "stratum,deaths\n0-19,2\n50+,75\n")
	deaths, err := LoadDeaths(dpath)
	if err != nil {
		t.Fatalf("load deaths: %v", err)
	}
	if deaths["50+"] != 75 {
		t.Fatalf("unexpected deaths: %+v", deaths)
	}

	neg := writeFile(t, "neg.csv", "stratum,deaths\n0-19,-2\n")
	if _, err := LoadDeaths(neg); err == nil {
		t.Fatalf("expected negative count error")
	}
}
