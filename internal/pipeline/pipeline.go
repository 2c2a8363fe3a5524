// Package pipeline wires the estimation stages into one run.
//
// Ownership boundary:
// - stage ordering and hand-offs (ingest, mixture fit,
//   poststratification, IFR propagation, reduction)
// - fatal-versus-recoverable error policy per stage
//
// Data flows one way through the stages; no stage mutates a previous
// stage's output, and the deaths data never reaches the incidence fit.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"seroifr/internal/data"
	"seroifr/internal/engine"
	"seroifr/internal/ifr"
	"seroifr/internal/mixture"
	"seroifr/internal/poststrat"
	"seroifr/internal/report"
)

// Config bounds one pipeline run.
type Config struct {
	Mixture       mixture.Config
	Cut           ifr.Config
	PoststratSeed uint64
	Quantiles     report.Quantiles
}

// DefaultConfig for a titre vector of the given dimension.
func DefaultConfig(dim int) Config {
	return Config{
		Mixture:   mixture.DefaultConfig(dim),
		Cut:       ifr.DefaultConfig(),
		Quantiles: report.DefaultQuantiles(),
	}
}

// Inputs are the three external tables plus the LTC death total.
type Inputs struct {
	Participants []data.Participant
	Strata       []data.Stratum
	Deaths       map[string]int
	LTCDeaths    int
}

// Run executes the full pipeline and returns the reduced summary.
func Run(ctx context.Context, sampler engine.Sampler, in Inputs, cfg Config, logger zerolog.Logger) (*report.Summary, error) {
	table, err := data.NewStratumTable(in.Strata)
	if err != nil {
		return nil, fmt.Errorf("ingest stage: %w", err)
	}
	table, err = table.WithDeaths(in.Deaths, in.LTCDeaths)
	if err != nil {
		return nil, fmt.Errorf("ingest stage: %w", err)
	}
	ds, err := data.NewDataset(in.Participants, table)
	if err != nil {
		return nil, fmt.Errorf("ingest stage: %w", err)
	}
	logger.Info().
		Int("participants", ds.Len()).
		Int("strata", table.Len()).
		Int("titre_dim", ds.Dim()).
		Msg("pipeline: inputs validated")

	start := time.Now()
	post, err := mixture.Fit(ctx, sampler, ds, table, cfg.Mixture, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("pipeline: mixture stage done")

	inf, err := poststrat.Realize(post, table, cfg.PoststratSeed, logger)
	if err != nil {
		return nil, fmt.Errorf("poststrat stage: %w", err)
	}

	start = time.Now()
	deaths, err := ifr.Propagate(ctx, sampler, inf, table, cfg.Cut, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("pipeline: cut stage done")

	sum, err := report.Reduce(inf, deaths, cfg.Quantiles)
	if err != nil {
		return nil, fmt.Errorf("report stage: %w", err)
	}
	logger.Info().Int("notes", len(sum.Notes)).Msg("pipeline: run complete")
	return sum, nil
}
