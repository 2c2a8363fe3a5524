// Package ifr apportions age-specific deaths between LTC and non-LTC
// populations, one secondary model run per posterior infection draw.
//
// Ownership boundary:
// - the Poisson apportionment model and its priors
// - the per-draw worker pool, retries, and drop accounting
// - the one-way hand-off: infection draws enter as fixed data and the
//   deaths data never flows back into the incidence estimate
package ifr
