// Package mixture owns the joint titre-mixture and infection-regression
// posterior.
//
// Ownership boundary:
// - latent-class definitions (naive, infected, vaccinated)
// - the unconstrained parameterization, including the structural
//   ordering constraint that pins component labels
// - priors and the probabilistic program submitted to the engine
// - draw unpacking and post-fit label identification checks
//
// Mixture does not realize population infection counts; it hands the
// regression draws to poststratification.
package mixture
