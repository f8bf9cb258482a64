// Package bulkfetch coalesces single-key lookups into bulk upstream
// requests, caching successful results, tracking not-found outcomes, and
// retrying transient errors with bounded back-off.
//
// See also [github.com/joeycumines/go-microbatch], for a simpler
// implementation, e.g. if you do not require caching, per-key error
// accounting, or partial result delivery.
package bulkfetch
