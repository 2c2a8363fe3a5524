package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"seroifr/internal/pipeline"
)

// seroifr config.toml key mapping onto the pipeline run settings.
// Absent keys keep their defaults for the observed titre dimension.
type fileConfig struct {
	Sampler   samplerFileConfig `toml:"sampler"`
	Mixture   mixtureFileConfig `toml:"mixture"`
	Cut       cutFileConfig     `toml:"cut"`
	Poststrat poststratFile     `toml:"poststrat"`
	Report    reportFileConfig  `toml:"report"`
}

type samplerFileConfig struct {
	Chains        int     `toml:"chains"`
	Draws         int     `toml:"draws"`
	Warmup        int     `toml:"warmup"`
	Seed          uint64  `toml:"seed"`
	StepScale     float64 `toml:"step_scale"`
	RhatThreshold float64 `toml:"rhat_threshold"`
}

type mixtureFileConfig struct {
	LabelToleranceSD float64          `toml:"label_tolerance_sd"`
	Signal           signalFileConfig `toml:"signal"`
	Priors           priorsFileConfig `toml:"priors"`
}

type signalFileConfig struct {
	Infected   []int `toml:"infected"`
	Vaccinated []int `toml:"vaccinated"`
}

type priorsFileConfig struct {
	BaselineMean []float64 `toml:"baseline_mean"`
	BaselineSD   float64   `toml:"baseline_sd"`
	GapMean      *float64  `toml:"gap_mean"`
	GapSD        float64   `toml:"gap_sd"`
	RhoLogitMean *float64  `toml:"rho_logit_mean"`
	RhoLogitSD   float64   `toml:"rho_logit_sd"`
	BetaSD       float64   `toml:"beta_sd"`
	LogScaleMean *float64  `toml:"log_scale_mean"`
	LogScaleSD   float64   `toml:"log_scale_sd"`
	CorrZSD      float64   `toml:"corr_z_sd"`
	LogDFMean    *float64  `toml:"log_df_mean"`
	LogDFSD      float64   `toml:"log_df_sd"`
}

type cutFileConfig struct {
	Draws         int      `toml:"draws"`
	Warmup        int      `toml:"warmup"`
	StepScale     float64  `toml:"step_scale"`
	Seed          uint64   `toml:"seed"`
	Workers       int      `toml:"workers"`
	MaxRetries    *int     `toml:"max_retries"`
	DropTolerance *float64 `toml:"drop_tolerance"`
	LogEtaMean    *float64 `toml:"log_eta_mean"`
	LogEtaSD      float64  `toml:"log_eta_sd"`
	LogThetaMean  *float64 `toml:"log_theta_mean"`
	LogThetaSD    float64  `toml:"log_theta_sd"`
}

type poststratFile struct {
	Seed uint64 `toml:"seed"`
}

type reportFileConfig struct {
	Lo float64 `toml:"lo"`
	Hi float64 `toml:"hi"`
}

// loadRunConfig overlays the optional TOML file on the defaults for
// the given titre dimension. Means may legitimately be zero or
// negative, so they ride behind pointers; spreads and counts treat
// zero as "keep the default".
func loadRunConfig(path string, dim int) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig(dim)
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return pipeline.Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	applySampler(&cfg, raw.Sampler)
	applyMixture(&cfg, raw.Mixture)
	applyCut(&cfg, raw.Cut)
	if raw.Poststrat.Seed != 0 {
		cfg.PoststratSeed = raw.Poststrat.Seed
	}
	if raw.Report.Lo != 0 {
		cfg.Quantiles.Lo = raw.Report.Lo
	}
	if raw.Report.Hi != 0 {
		cfg.Quantiles.Hi = raw.Report.Hi
	}

	if err := validateRunConfig(cfg, dim); err != nil {
		return pipeline.Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func applySampler(cfg *pipeline.Config, raw samplerFileConfig) {
	ctl := &cfg.Mixture.Controls
	if raw.Chains != 0 {
		ctl.Chains = raw.Chains
	}
	if raw.Draws != 0 {
		ctl.Draws = raw.Draws
	}
	if raw.Warmup != 0 {
		ctl.Warmup = raw.Warmup
	}
	if raw.Seed != 0 {
		ctl.Seed = raw.Seed
	}
	if raw.StepScale != 0 {
		ctl.StepScale = raw.StepScale
	}
	if raw.RhatThreshold != 0 {
		ctl.RhatThreshold = raw.RhatThreshold
	}
}

func applyMixture(cfg *pipeline.Config, raw mixtureFileConfig) {
	mx := &cfg.Mixture
	if raw.LabelToleranceSD != 0 {
		mx.LabelToleranceSD = raw.LabelToleranceSD
	}
	if len(raw.Signal.Infected) > 0 {
		mx.Signal.Infected = raw.Signal.Infected
	}
	if len(raw.Signal.Vaccinated) > 0 {
		mx.Signal.Vaccinated = raw.Signal.Vaccinated
	}

	p := &mx.Priors
	if len(raw.Priors.BaselineMean) > 0 {
		p.BaselineMean = raw.Priors.BaselineMean
	}
	if raw.Priors.BaselineSD != 0 {
		p.BaselineSD = raw.Priors.BaselineSD
	}
	if raw.Priors.GapMean != nil {
		p.GapMean = *raw.Priors.GapMean
	}
	if raw.Priors.GapSD != 0 {
		p.GapSD = raw.Priors.GapSD
	}
	if raw.Priors.RhoLogitMean != nil {
		p.RhoLogitMean = *raw.Priors.RhoLogitMean
	}
	if raw.Priors.RhoLogitSD != 0 {
		p.RhoLogitSD = raw.Priors.RhoLogitSD
	}
	if raw.Priors.BetaSD != 0 {
		p.BetaSD = raw.Priors.BetaSD
	}
	if raw.Priors.LogScaleMean != nil {
		p.LogScaleMean = *raw.Priors.LogScaleMean
	}
	if raw.Priors.LogScaleSD != 0 {
		p.LogScaleSD = raw.Priors.LogScaleSD
	}
	if raw.Priors.CorrZSD != 0 {
		p.CorrZSD = raw.Priors.CorrZSD
	}
	if raw.Priors.LogDFMean != nil {
		p.LogDFMean = *raw.Priors.LogDFMean
	}
	if raw.Priors.LogDFSD != 0 {
		p.LogDFSD = raw.Priors.LogDFSD
	}
}

func applyCut(cfg *pipeline.Config, raw cutFileConfig) {
	cut := &cfg.Cut
	if raw.Draws != 0 {
		cut.Controls.Draws = raw.Draws
	}
	if raw.Warmup != 0 {
		cut.Controls.Warmup = raw.Warmup
	}
	if raw.StepScale != 0 {
		cut.Controls.StepScale = raw.StepScale
	}
	if raw.Seed != 0 {
		cut.Seed = raw.Seed
	}
	if raw.Workers != 0 {
		cut.Workers = raw.Workers
	}
	if raw.MaxRetries != nil {
		cut.MaxRetries = *raw.MaxRetries
	}
	if raw.DropTolerance != nil {
		cut.DropTolerance = *raw.DropTolerance
	}
	if raw.LogEtaMean != nil {
		cut.Priors.LogEtaMean = *raw.LogEtaMean
	}
	if raw.LogEtaSD != 0 {
		cut.Priors.LogEtaSD = raw.LogEtaSD
	}
	if raw.LogThetaMean != nil {
		cut.Priors.LogThetaMean = *raw.LogThetaMean
	}
	if raw.LogThetaSD != 0 {
		cut.Priors.LogThetaSD = raw.LogThetaSD
	}
}

func validateRunConfig(cfg pipeline.Config, dim int) error {
	if err := cfg.Mixture.Signal.Validate(dim); err != nil {
		return fmt.Errorf("mixture signal: %w", err)
	}
	if err := cfg.Mixture.Priors.Validate(dim); err != nil {
		return fmt.Errorf("mixture priors: %w", err)
	}
	if err := cfg.Quantiles.Validate(); err != nil {
		return fmt.Errorf("report quantiles: %w", err)
	}
	if cfg.Cut.DropTolerance < 0 || cfg.Cut.DropTolerance > 1 {
		return fmt.Errorf("cut drop_tolerance %v outside [0,1]", cfg.Cut.DropTolerance)
	}
	if cfg.Cut.MaxRetries < 0 {
		return fmt.Errorf("cut max_retries must not be negative")
	}
	return nil
}
