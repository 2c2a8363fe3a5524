package mixture

import (
	"fmt"
)

// Priors hold the hyperparameters of the joint model. Baseline, gap
// and rho priors are informative: component separation in a finite
// mixture is not tractable without them. The rest are weakly
// informative.
type Priors struct {
	// Informative. BaselineMean is per titre dimension.
	BaselineMean []float64 `toml:"baseline_mean"`
	BaselineSD   float64   `toml:"baseline_sd"`
	GapMean      float64   `toml:"gap_mean"` // mean of log(active - baseline)
	GapSD        float64   `toml:"gap_sd"`
	RhoLogitMean float64   `toml:"rho_logit_mean"`
	RhoLogitSD   float64   `toml:"rho_logit_sd"`

	// Weakly informative.
	BetaSD       float64 `toml:"beta_sd"`
	LogScaleMean float64 `toml:"log_scale_mean"`
	LogScaleSD   float64 `toml:"log_scale_sd"`
	CorrZSD      float64 `toml:"corr_z_sd"` // over tanh-transformed partial correlations
	LogDFMean    float64 `toml:"log_df_mean"`
	LogDFSD      float64 `toml:"log_df_sd"`
}

// DefaultPriors for a titre vector of the given dimension: naive
// baseline near zero on the log-titre scale, active components about
// e^0.7 ≈ 2 log-units above it, vaccination rate centered near 20%.
func DefaultPriors(dim int) Priors {
	baseline := make([]float64, dim)
	return Priors{
		BaselineMean: baseline,
		BaselineSD:   0.5,
		GapMean:      0.7,
		GapSD:        0.3,
		RhoLogitMean: -1.4,
		RhoLogitSD:   0.5,
		BetaSD:       2.5,
		LogScaleMean: -0.7,
		LogScaleSD:   0.5,
		CorrZSD:      1,
		LogDFMean:    2,
		LogDFSD:      0.5,
	}
}

// Validate checks the hyperparameters against the titre dimension.
func (p Priors) Validate(dim int) error {
	if len(p.BaselineMean) != dim {
		return fmt.Errorf("priors: %d baseline means for titre dimension %d", len(p.BaselineMean), dim)
	}
	for name, sd := range map[string]float64{
		"baseline_sd":  p.BaselineSD,
		"gap_sd":       p.GapSD,
		"rho_logit_sd": p.RhoLogitSD,
		"beta_sd":      p.BetaSD,
		"log_scale_sd": p.LogScaleSD,
		"corr_z_sd":    p.CorrZSD,
		"log_df_sd":    p.LogDFSD,
	} {
		if sd <= 0 {
			return fmt.Errorf("priors: %s must be positive, got %g", name, sd)
		}
	}
	return nil
}
