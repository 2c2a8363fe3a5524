package poststrat

import (
	"math"
	"testing"

	"seroifr/internal/data"
	"seroifr/internal/logging"
	"seroifr/internal/mixture"
	"seroifr/internal/testutil/testlog"
)

func testPosterior(t *testing.T, probs [][]float64) (*mixture.Posterior, *data.StratumTable) {
	t.Helper()
	table, err := data.NewStratumTable([]data.Stratum{
		{ID: "0-39", Population: 10000},
		{ID: "40-69", Population: 8000},
		{ID: "70+", Population: 3000},
	})
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	post := &mixture.Posterior{StratumIDs: table.IDs()}
	for _, p := range probs {
		post.Draws = append(post.Draws, mixture.Draw{StratumProb: p})
	}
	return post, table
}

func TestRealizeBoundsAndConservation(t *testing.T) {
	testlog.Start(t)
	var probs [][]float64
	for i := 0; i < 200; i++ {
		probs = append(probs, []float64{0.12, 0.08, 0.03})
	}
	post, table := testPosterior(t, probs)
	logger := logging.New(logging.Config{})
	set, err := Realize(post, table, 17, logger)
	if err != nil {
		t.Fatalf("realize: %v", err)
	}
	if set.NumDraws() != 200 || set.NumStrata() != 3 {
		t.Fatalf("unexpected shape: %d draws, %d strata", set.NumDraws(), set.NumStrata())
	}
	for tdraw, counts := range set.Counts {
		total := 0
		for j, y := range counts {
			if y < 0 || y > set.Populations[j] {
				t.Fatalf("draw %d stratum %d count %d outside [0, %d]", tdraw, j, y, set.Populations[j])
			}
			total += y
		}
		if set.OverallCount(tdraw) != total {
			t.Fatalf("draw %d overall count %d != sum %d", tdraw, set.OverallCount(tdraw), total)
		}
	}

	// Realized means track the regression probabilities.
	mean := 0.0
	for tdraw := range set.Counts {
		mean += float64(set.Counts[tdraw][0])
	}
	mean /= float64(set.NumDraws())
	if math.Abs(mean-1200) > 60 {
		t.Fatalf("stratum 0 mean count %.1f far from 1200", mean)
	}
}

func TestRealizeDeterministicPerSeed(t *testing.T) {
	testlog.Start(t)
	probs := [][]float64{{0.5, 0.2, 0.9}, {0.1, 0.4, 0.6}}
	post, table := testPosterior(t, probs)
	logger := logging.New(logging.Config{})
	a, err := Realize(post, table, 5, logger)
	if err != nil {
		t.Fatalf("realize: %v", err)
	}
	b, err := Realize(post, table, 5, logger)
	if err != nil {
		t.Fatalf("realize: %v", err)
	}
	for tdraw := range a.Counts {
		for j := range a.Counts[tdraw] {
			if a.Counts[tdraw][j] != b.Counts[tdraw][j] {
				t.Fatalf("same seed diverged at draw %d stratum %d", tdraw, j)
			}
		}
	}
	c, err := Realize(post, table, 6, logger)
	if err != nil {
		t.Fatalf("realize: %v", err)
	}
	same := true
	for tdraw := range a.Counts {
		for j := range a.Counts[tdraw] {
			if a.Counts[tdraw][j] != c.Counts[tdraw][j] {
				same = false
			}
		}
	}
	if same {
		t.Fatalf("different seeds produced identical counts")
	}
}

func TestRealizeEdgeProbabilities(t *testing.T) {
	testlog.Start(t)
	post, table := testPosterior(t, [][]float64{{0, 1, 0.5}})
	logger := logging.New(logging.Config{})
	set, err := Realize(post, table, 1, logger)
	if err != nil {
		t.Fatalf("realize: %v", err)
	}
	if set.Counts[0][0] != 0 {
		t.Fatalf("p=0 produced %d infections", set.Counts[0][0])
	}
	if set.Counts[0][1] != set.Populations[1] {
		t.Fatalf("p=1 produced %d of %d", set.Counts[0][1], set.Populations[1])
	}
}

func TestRealizeRejectsShapeMismatch(t *testing.T) {
	testlog.Start(t)
	post, table := testPosterior(t, [][]float64{{0.1, 0.2}})
	logger := logging.New(logging.Config{})
	if _, err := Realize(post, table, 1, logger); err == nil {
		t.Fatalf("expected shape mismatch error")
	}
}
