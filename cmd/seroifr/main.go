package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"

	"seroifr/internal/data"
	"seroifr/internal/engine"
	"seroifr/internal/logging"
	"seroifr/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seroifr: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath       = flag.String("config", "", "optional TOML run configuration")
		participantsPath = flag.String("participants", "", "participant titre CSV (required)")
		strataPath       = flag.String("strata", "", "census strata CSV (required)")
		deathsPath       = flag.String("deaths", "", "deaths-by-stratum CSV (required)")
		ltcDeaths        = flag.Int("ltc-deaths", 0, "total deaths inside long-term care")
		outPath          = flag.String("out", "", "write the summary here instead of stdout")
	)
	flag.Parse()

	if *participantsPath == "" || *strataPath == "" || *deathsPath == "" {
		return fmt.Errorf("-participants, -strata and -deaths are required")
	}

	logging.ConfigureRuntime()
	logger := log.Logger

	participants, err := data.LoadParticipants(*participantsPath)
	if err != nil {
		return fmt.Errorf("ingest stage: %w", err)
	}
	strata, err := data.LoadStrata(*strataPath)
	if err != nil {
		return fmt.Errorf("ingest stage: %w", err)
	}
	deaths, err := data.LoadDeaths(*deathsPath)
	if err != nil {
		return fmt.Errorf("ingest stage: %w", err)
	}

	if len(participants) == 0 {
		return fmt.Errorf("ingest stage: participants file %s has no rows", *participantsPath)
	}
	dim := len(participants[0].Titres)
	cfg, err := loadRunConfig(*configPath, dim)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	in := pipeline.Inputs{
		Participants: participants,
		Strata:       strata,
		Deaths:       deaths,
		LTCDeaths:    *ltcDeaths,
	}
	sum, err := pipeline.Run(ctx, engine.MH{}, in, cfg, logger)
	if err != nil {
		return err
	}

	rendered := sum.Render()
	if *outPath == "" {
		fmt.Print(rendered)
		return nil
	}
	if err := os.WriteFile(*outPath, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("write summary (%s): %w", *outPath, err)
	}
	logger.Info().Str("path", *outPath).Msg("summary written")
	return nil
}
