package main

import (
	"os"
	"path/filepath"
	"testing"

	"seroifr/internal/pipeline"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunConfigDefaults(t *testing.T) {
	cfg, err := loadRunConfig("", 3)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := pipeline.DefaultConfig(3)
	if cfg.Mixture.Controls.Chains != want.Mixture.Controls.Chains {
		t.Fatalf("unexpected chains: %d", cfg.Mixture.Controls.Chains)
	}
	if cfg.Quantiles != want.Quantiles {
		t.Fatalf("unexpected quantiles: %+v", cfg.Quantiles)
	}
}

func TestLoadRunConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
[sampler]
chains = 2
draws = 100
seed = 99
rhat_threshold = 1.2

[mixture]
label_tolerance_sd = 3.0

[mixture.signal]
infected = [0, 2]
vaccinated = [1]

[mixture.priors]
gap_mean = 0.0
rho_logit_mean = -1.5

[cut]
draws = 25
workers = 2
max_retries = 0
drop_tolerance = 0.1
log_eta_mean = -6.0

[poststrat]
seed = 7

[report]
lo = 0.05
hi = 0.95
`)

	cfg, err := loadRunConfig(path, 3)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ctl := cfg.Mixture.Controls
	if ctl.Chains != 2 || ctl.Draws != 100 || ctl.Seed != 99 {
		t.Fatalf("sampler overrides not applied: %+v", ctl)
	}
	if ctl.RhatThreshold != 1.2 {
		t.Fatalf("unexpected rhat threshold: %v", ctl.RhatThreshold)
	}
	// Warmup was absent from the file, so it keeps its default.
	if ctl.Warmup != pipeline.DefaultConfig(3).Mixture.Controls.Warmup {
		t.Fatalf("warmup default lost: %d", ctl.Warmup)
	}
	if cfg.Mixture.LabelToleranceSD != 3.0 {
		t.Fatalf("unexpected label tolerance: %v", cfg.Mixture.LabelToleranceSD)
	}
	if got := cfg.Mixture.Signal.Infected; len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("unexpected infected signal: %v", got)
	}
	if cfg.Mixture.Priors.GapMean != 0 {
		t.Fatalf("gap_mean override lost: %v", cfg.Mixture.Priors.GapMean)
	}
	if cfg.Mixture.Priors.RhoLogitMean != -1.5 {
		t.Fatalf("rho_logit_mean override lost: %v", cfg.Mixture.Priors.RhoLogitMean)
	}
	if cfg.Cut.Controls.Draws != 25 || cfg.Cut.Workers != 2 {
		t.Fatalf("cut overrides not applied: %+v", cfg.Cut)
	}
	if cfg.Cut.MaxRetries != 0 {
		t.Fatalf("explicit max_retries = 0 lost: %d", cfg.Cut.MaxRetries)
	}
	if cfg.Cut.DropTolerance != 0.1 {
		t.Fatalf("unexpected drop tolerance: %v", cfg.Cut.DropTolerance)
	}
	if cfg.Cut.Priors.LogEtaMean != -6.0 {
		t.Fatalf("log_eta_mean override lost: %v", cfg.Cut.Priors.LogEtaMean)
	}
	if cfg.PoststratSeed != 7 {
		t.Fatalf("unexpected poststrat seed: %d", cfg.PoststratSeed)
	}
	if cfg.Quantiles.Lo != 0.05 || cfg.Quantiles.Hi != 0.95 {
		t.Fatalf("unexpected quantiles: %+v", cfg.Quantiles)
	}
}

func TestLoadRunConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{
			name: "signal dimension out of range",
			content: `
[mixture.signal]
infected = [5]
`,
		},
		{
			name: "quantiles inverted",
			content: `
[report]
lo = 0.9
hi = 0.1
`,
		},
		{
			name: "drop tolerance above one",
			content: `
[cut]
drop_tolerance = 1.5
`,
		},
		{
			name:    "malformed toml",
			content: `[sampler`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := loadRunConfig(path, 3); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestLoadRunConfigMissingFile(t *testing.T) {
	if _, err := loadRunConfig(filepath.Join(t.TempDir(), "absent.toml"), 3); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
