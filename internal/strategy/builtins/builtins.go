// Package builtins provides the strategy variants that ship with trendlab.
package builtins

import "trendlab/internal/strategy"

// Strategy kinds.
const (
	KindThresholds = "thresholds"
	KindOutbreak   = "outbreak"
)

// Register installs every built-in variant into r.
func Register(r *strategy.Registry) {
	r.Register(KindThresholds, func(p strategy.Params) (strategy.Strategy, error) { return NewThreshold(p) })
	r.Register(KindOutbreak, func(p strategy.Params) (strategy.Strategy, error) { return NewOutbreak(p) })
}

// NewRegistry returns a registry with every built-in variant installed.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}
