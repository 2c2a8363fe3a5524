package ifr

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"bitbucket.org/dtolpin/infergo/model"

	"seroifr/internal/data"
	"seroifr/internal/engine"
	"seroifr/internal/logging"
	"seroifr/internal/poststrat"
	"seroifr/internal/testutil/testlog"
)

func testTable(t *testing.T) *data.StratumTable {
	t.Helper()
	table, err := data.NewStratumTable([]data.Stratum{
		{ID: "0-59", Population: 20000, LTCPopulation: 100},
		{ID: "60-79", Population: 9000, LTCPopulation: 400},
		{ID: "80+", Population: 3000, LTCPopulation: 900},
	})
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	table, err = table.WithDeaths(map[string]int{"0-59": 8, "60-79": 70, "80+": 260}, 180)
	if err != nil {
		t.Fatalf("deaths: %v", err)
	}
	return table
}

func testInfections(table *data.StratumTable, draws int, zeroStratum bool) *poststrat.InfectionDrawSet {
	set := &poststrat.InfectionDrawSet{
		StratumIDs:  table.IDs(),
		Populations: table.Populations(),
	}
	for t := 0; t < draws; t++ {
		counts := []int{2400 + 10*t, 900 + 5*t, 260 + t}
		if zeroStratum && t%2 == 0 {
			counts[2] = 0
		}
		set.Counts = append(set.Counts, counts)
	}
	return set
}

func TestPropagateBoundsAndZeroHandling(t *testing.T) {
	testlog.Start(t)
	table := testTable(t)
	inf := testInfections(table, 30, true)
	cfg := DefaultConfig()
	cfg.Seed = 99
	cfg.Controls.Warmup = 150
	cfg.Controls.Draws = 20
	logger := logging.New(logging.Config{})

	set, err := Propagate(context.Background(), engine.MH{}, inf, table, cfg, logger)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if len(set.Draws) != 30 || set.Dropped != 0 {
		t.Fatalf("expected 30 retained draws, got %d (dropped %d)", len(set.Draws), set.Dropped)
	}
	deaths := table.Deaths()
	sawUndefined := false
	for tdraw, apps := range set.Draws {
		for j, app := range apps {
			if app.Undefined {
				sawUndefined = true
				if app.NonLTCDeaths != 0 {
					t.Fatalf("draw %d stratum %d undefined but apportioned %d deaths", tdraw, j, app.NonLTCDeaths)
				}
				continue
			}
			if app.NonLTCDeaths < 0 || app.NonLTCDeaths > deaths[j] {
				t.Fatalf("draw %d stratum %d apportioned %d of %d deaths", tdraw, j, app.NonLTCDeaths, deaths[j])
			}
			if app.EtaOutside <= 0 || app.ThetaInside <= 0 {
				t.Fatalf("draw %d stratum %d non-positive rates", tdraw, j)
			}
		}
	}
	if !sawUndefined {
		t.Fatalf("zero-infection cells not marked undefined")
	}
}

func TestPropagateWorkerInvariance(t *testing.T) {
	testlog.Start(t)
	table := testTable(t)
	inf := testInfections(table, 16, false)
	logger := logging.New(logging.Config{})
	run := func(workers int) *DeathsDrawSet {
		cfg := DefaultConfig()
		cfg.Seed = 7
		cfg.Workers = workers
		cfg.Controls.Warmup = 100
		cfg.Controls.Draws = 10
		set, err := Propagate(context.Background(), engine.MH{}, inf, table, cfg, logger)
		if err != nil {
			t.Fatalf("propagate workers=%d: %v", workers, err)
		}
		return set
	}
	serial := run(1)
	pooled := run(8)
	if !reflect.DeepEqual(serial.Draws, pooled.Draws) {
		t.Fatalf("worker count changed propagation results")
	}
}

// failingSampler always rejects SampleOne.
type failingSampler struct{}

func (failingSampler) Sample(context.Context, model.Model, []float64, []string, engine.Controls) (*engine.DrawSet, error) {
	return nil, fmt.Errorf("not used")
}

func (failingSampler) SampleOne(context.Context, model.Model, []float64, engine.Controls) ([]float64, error) {
	return nil, fmt.Errorf("stuck chain")
}

func TestPropagateDropEscalation(t *testing.T) {
	testlog.Start(t)
	table := testTable(t)
	inf := testInfections(table, 10, false)
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.DropTolerance = 0.2
	logger := logging.New(logging.Config{})

	_, err := Propagate(context.Background(), failingSampler{}, inf, table, cfg, logger)
	if err == nil || !strings.Contains(err.Error(), "tolerance") {
		t.Fatalf("expected drop-tolerance escalation, got %v", err)
	}
}

// flakySampler fails the first failures calls, then delegates to MH.
type flakySampler struct {
	mu       sync.Mutex
	failures int
	real     engine.MH
}

func (s *flakySampler) Sample(ctx context.Context, m model.Model, init []float64, names []string, ctl engine.Controls) (*engine.DrawSet, error) {
	return s.real.Sample(ctx, m, init, names, ctl)
}

func (s *flakySampler) SampleOne(ctx context.Context, m model.Model, init []float64, ctl engine.Controls) ([]float64, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, fmt.Errorf("transient failure")
	}
	s.mu.Unlock()
	return s.real.SampleOne(ctx, m, init, ctl)
}

func TestPropagateRetriesWithFreshSeed(t *testing.T) {
	testlog.Start(t)
	table := testTable(t)
	inf := testInfections(table, 4, false)
	cfg := DefaultConfig()
	cfg.Seed = 3
	cfg.Workers = 1
	cfg.MaxRetries = 2
	cfg.Controls.Warmup = 100
	cfg.Controls.Draws = 5
	logger := logging.New(logging.Config{})

	set, err := Propagate(context.Background(), &flakySampler{failures: 2}, inf, table, cfg, logger)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if set.Dropped != 0 || len(set.Draws) != 4 {
		t.Fatalf("retries did not recover: %d draws, %d dropped", len(set.Draws), set.Dropped)
	}
}
