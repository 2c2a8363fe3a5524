// Package data owns the pipeline's immutable inputs.
//
// Ownership boundary:
// - census stratum table (populations, LTC populations, deaths)
// - survey participant dataset (titre vectors by stratum)
// - design matrix construction for the regression
//
// Data does not estimate anything; every downstream stage consumes
// these values read-only.
package data
