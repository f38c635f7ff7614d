// Package generate implements the ordered fallback generation chain:
// character-conditioned generation, then generic text-to-image, then a
// deterministic placeholder. The first stage to produce at least one
// image wins. Expected backend failures never escape the pipeline as
// errors; they drive the next stage instead. The product guarantees
// the caller always receives a usable artifact, even when the compute
// backend is degraded.
package generate
