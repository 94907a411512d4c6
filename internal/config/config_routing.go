package config

import "time"

// RouterConfig tunes provider selection and health tracking.
type RouterConfig struct {
	// FailureThreshold is the consecutive-failure count that degrades a
	// provider. Twice the threshold marks it unhealthy.
	FailureThreshold int `yaml:"failure_threshold"`

	// RetestInterval is how often unhealthy providers are reprobed.
	RetestInterval time.Duration `yaml:"retest_interval"`

	// MaxFallbacks caps failover attempts after a retryable failure.
	// Zero means try every remaining candidate.
	MaxFallbacks int `yaml:"max_fallbacks"`
}

// RoutingConfig tunes input classification and dispatch.
type RoutingConfig struct {
	// FastPathCutoff is the minimum match confidence for a command
	// to short-circuit intent analysis entirely.
	FastPathCutoff float64 `yaml:"fast_path_cutoff"`

	// FastPathThreshold is the minimum confidence for any fast-path
	// strategy to produce a match.
	FastPathThreshold float64 `yaml:"fast_path_threshold"`

	// FastPathBudget is the wall-clock cap on fast-path matching.
	FastPathBudget time.Duration `yaml:"fast_path_budget"`

	// FuzzyThreshold is the minimum similarity for fuzzy command matches.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// PlannerConfidence gates multi-step task planning.
	PlannerConfidence float64 `yaml:"planner_confidence"`

	// ModelRefinement enables the second-stage model call during
	// intent analysis.
	ModelRefinement bool `yaml:"model_refinement"`

	// RefinementTimeout bounds the refinement call.
	RefinementTimeout time.Duration `yaml:"refinement_timeout"`
}

func applyRouterDefaults(r *RouterConfig) {
	if r.FailureThreshold == 0 {
		r.FailureThreshold = 3
	}
	if r.RetestInterval == 0 {
		r.RetestInterval = 30 * time.Second
	}
}

func applyRoutingDefaults(r *RoutingConfig) {
	if r.FastPathCutoff == 0 {
		r.FastPathCutoff = 0.8
	}
	if r.FastPathThreshold == 0 {
		r.FastPathThreshold = 0.6
	}
	if r.FastPathBudget == 0 {
		r.FastPathBudget = 50 * time.Millisecond
	}
	if r.FuzzyThreshold == 0 {
		r.FuzzyThreshold = 0.7
	}
	if r.PlannerConfidence == 0 {
		r.PlannerConfidence = 0.6
	}
	if r.RefinementTimeout == 0 {
		r.RefinementTimeout = 5 * time.Second
	}
}
