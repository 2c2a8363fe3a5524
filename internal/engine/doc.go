// Package engine owns the posterior sampling service boundary.
//
// Ownership boundary:
// - sampling controls (chains, draws, warmup, seed)
// - full-chain sampling with mixing diagnostics
// - single-draw sampling for staged (cut) computations
//
// Models are infergo programs: Observe(x []float64) float64 returning
// the log posterior density at x. The engine holds no global state;
// every invocation derives all randomness from the explicit seed.
package engine
