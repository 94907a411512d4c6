// Package intent turns one line of user input into a structured
// UserIntent. Two explicit paths feed the same struct: fast keyword
// heuristics that always succeed, and an optional model refinement
// bounded by a timeout. When refinement fails the heuristic reading is
// returned unchanged with its confidence attenuated.
package intent

import (
	"context"
	"io"
	"time"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/router"
	"github.com/haasonsaas/forge/pkg/models"
)

const (
	defaultRefineTimeout = 10 * time.Second

	// defaultAttenuation scales heuristic confidence when a configured
	// refinement path was unavailable.
	defaultAttenuation = 0.8
)

// Completer is the slice of the provider router used for refinement.
type Completer interface {
	Complete(ctx context.Context, req router.RouteRequest) (*models.CompletionResponse, error)
}

// Project summarizes the workspace the assistant is pointed at.
type Project struct {
	Root      string   `json:"root"`
	Languages []string `json:"languages,omitempty"`
	FileCount int      `json:"file_count"`
}

// AnalysisContext carries the conversational surroundings of one line.
// All fields are optional.
type AnalysisContext struct {
	// History holds recent turns, most recent last. At most the last
	// five are considered.
	History     []models.ConversationTurn
	Project     Project
	RecentFiles []string
	LastIntent  *models.UserIntent
}

// Config assembles an Analyzer. A nil Completer disables refinement.
type Config struct {
	Completer     Completer
	RefineTimeout time.Duration
	Attenuation   float64
	Logger        *observability.Logger
}

// Analyzer classifies user input. Safe for concurrent use.
type Analyzer struct {
	completer     Completer
	refineTimeout time.Duration
	attenuation   float64
	logger        *observability.Logger
}

// New builds an Analyzer.
func New(cfg Config) *Analyzer {
	if cfg.RefineTimeout <= 0 {
		cfg.RefineTimeout = defaultRefineTimeout
	}
	if cfg.Attenuation <= 0 || cfg.Attenuation > 1 {
		cfg.Attenuation = defaultAttenuation
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}
	return &Analyzer{
		completer:     cfg.Completer,
		refineTimeout: cfg.RefineTimeout,
		attenuation:   cfg.Attenuation,
		logger:        logger,
	}
}

// Analyze classifies text. It always returns a usable intent: model
// failures downgrade silently to the heuristic reading.
func (a *Analyzer) Analyze(ctx context.Context, text string, actx AnalysisContext) models.UserIntent {
	heuristic := analyzeHeuristic(text, actx)
	if a.completer == nil {
		return heuristic
	}

	refined, err := a.refine(ctx, text, actx, heuristic)
	if err != nil {
		a.logger.Debug(ctx, "intent refinement unavailable", "error", err)
		heuristic.Confidence *= a.attenuation
		return heuristic
	}
	return refined
}
