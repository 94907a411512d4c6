// Package app assembles the assistant core: every component is built
// lazily through the service container, wired from configuration, and
// torn down in reverse order on shutdown. Hosts feed it one line at a
// time through ProcessLine and run the returned decision through the
// matching executor.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haasonsaas/forge/internal/approval"
	"github.com/haasonsaas/forge/internal/audit"
	"github.com/haasonsaas/forge/internal/config"
	"github.com/haasonsaas/forge/internal/container"
	"github.com/haasonsaas/forge/internal/conversation"
	"github.com/haasonsaas/forge/internal/fastpath"
	"github.com/haasonsaas/forge/internal/fileops"
	"github.com/haasonsaas/forge/internal/intent"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/orchestrator"
	"github.com/haasonsaas/forge/internal/providers"
	"github.com/haasonsaas/forge/internal/route"
	"github.com/haasonsaas/forge/internal/router"
	"github.com/haasonsaas/forge/internal/safety"
	"github.com/haasonsaas/forge/internal/sched"
	"github.com/haasonsaas/forge/internal/tools"
	"github.com/haasonsaas/forge/internal/tools/files"
	"github.com/haasonsaas/forge/internal/tools/shell"
	"github.com/haasonsaas/forge/pkg/models"
	"github.com/haasonsaas/forge/pkg/terminal"
)

// Service names registered with the container. Resolution order in
// Start fixes disposal order: the audit trail is resolved first so it
// outlives everything that records to it.
const (
	svcAudit        = "audit"
	svcProviders    = "providers"
	svcFastpath     = "fastpath"
	svcIntent       = "intent"
	svcIndex        = "index"
	svcClassifier   = "classifier"
	svcPlanner      = "planner"
	svcConversation = "conversation"
	svcTools        = "tools"
	svcSafety       = "safety"
	svcOrchestrator = "orchestrator"
	svcRouter       = "router"
	svcScheduler    = "scheduler"
)

// Session decision stores keep this many undecided plans and file
// operations around for their executors.
const decisionBacklog = 16

// Config assembles an App.
type Config struct {
	// Config is the loaded configuration. Required.
	Config *config.Config

	// Terminal is the host I/O surface. Nil falls back to a silent
	// terminal that declines every confirmation.
	Terminal terminal.Terminal

	// Version is the build version shown by the version command.
	Version string

	// Logger overrides the logger built from Config.Logging.
	Logger *observability.Logger

	// Metrics is optional; nil disables instrument updates.
	Metrics *observability.Metrics
}

// App is one assistant session over one workspace. Safe for use from
// the single logical task driving the session loop; the services it
// owns are individually safe for concurrent use.
type App struct {
	cfg     *config.Config
	root    string
	version string
	term    terminal.Terminal
	logger  *observability.Logger
	metrics *observability.Metrics

	services *container.Container

	// Resolved by Start.
	trail     *audit.Log
	providers *router.Router
	matcher   *fastpath.Matcher
	index     *fileops.Index
	conv      *conversation.Store
	registry  *tools.Registry
	pipeline  *safety.Pipeline
	orch      *orchestrator.Orchestrator
	router    *route.Router
	sched     *sched.Scheduler

	mu         sync.Mutex
	started    bool
	lastIntent *models.UserIntent
	lastTurnID string
	pending    *models.RoutingDecision
	plans      *decisionCache[*models.TaskPlan]
	fileOps    *decisionCache[*models.FileOperationIntent]
}

// New wires the service graph for cfg. Nothing is constructed until
// Start resolves it.
func New(cfg Config) (*App, error) {
	if cfg.Config == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Config.Validate(); err != nil {
		return nil, &UserError{
			Category:   CategoryValidation,
			Message:    "invalid configuration",
			Resolution: "fix the reported setting and retry",
			Err:        err,
		}
	}
	root, err := filepath.Abs(cfg.Config.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{
			Level:  cfg.Config.Logging.Level,
			Format: cfg.Config.Logging.Format,
			Output: os.Stderr,
		})
	}
	term := cfg.Terminal
	if term == nil {
		term = &terminal.Noop{}
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	a := &App{
		cfg:      cfg.Config,
		root:     root,
		version:  version,
		term:     term,
		logger:   logger,
		metrics:  cfg.Metrics,
		services: container.New(logger),
		plans:    newDecisionCache[*models.TaskPlan](decisionBacklog),
		fileOps:  newDecisionCache[*models.FileOperationIntent](decisionBacklog),
	}
	if err := a.register(); err != nil {
		return nil, err
	}
	return a, nil
}

// register wires every service factory. Lazy construction through the
// container breaks the reference cycles between routing, planning, and
// conversation context.
func (a *App) register() error {
	c := a.services
	steps := []error{
		c.Register(svcAudit, a.buildAudit,
			container.WithFallback(func(ctx context.Context, _ *container.Container) (any, error) {
				a.logger.Warn(ctx, "audit trail unavailable, continuing without one")
				return audit.Open(audit.Config{})
			}),
			container.WithDisposer(func(_ context.Context, v any) error {
				return v.(*audit.Log).Close()
			})),
		c.Register(svcProviders, a.buildProviders),
		c.Register(svcFastpath, a.buildFastpath),
		c.Register(svcIntent, a.buildIntent),
		c.Register(svcIndex, a.buildIndex,
			container.WithDisposer(func(_ context.Context, v any) error {
				return v.(*fileops.Index).Close()
			})),
		c.Register(svcClassifier, a.buildClassifier),
		c.Register(svcPlanner, func(context.Context, *container.Container) (any, error) {
			return newPlanner(a.logger), nil
		}),
		c.Register(svcConversation, a.buildConversation,
			container.WithDisposer(func(_ context.Context, v any) error {
				return v.(*conversation.Store).Persist()
			})),
		c.Register(svcTools, a.buildTools),
		c.Register(svcSafety, a.buildSafety),
		c.Register(svcOrchestrator, a.buildOrchestrator),
		c.Register(svcRouter, a.buildRouter),
		c.Register(svcScheduler, a.buildScheduler,
			container.WithDisposer(func(ctx context.Context, v any) error {
				return v.(*sched.Scheduler).Stop(ctx)
			})),
	}
	return errors.Join(steps...)
}

// Start resolves the full service graph, loads persisted state, and
// begins background maintenance. It is not idempotent; a stopped App
// is done.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	a.mu.Unlock()

	var err error
	if a.trail, err = container.ResolveAs[*audit.Log](ctx, a.services, svcAudit); err != nil {
		return err
	}
	if a.providers, err = container.ResolveAs[*router.Router](ctx, a.services, svcProviders); err != nil {
		return err
	}
	if a.matcher, err = container.ResolveAs[*fastpath.Matcher](ctx, a.services, svcFastpath); err != nil {
		return err
	}
	if a.index, err = container.ResolveAs[*fileops.Index](ctx, a.services, svcIndex); err != nil {
		return err
	}
	if a.conv, err = container.ResolveAs[*conversation.Store](ctx, a.services, svcConversation); err != nil {
		return err
	}
	if a.registry, err = container.ResolveAs[*tools.Registry](ctx, a.services, svcTools); err != nil {
		return err
	}
	if a.pipeline, err = container.ResolveAs[*safety.Pipeline](ctx, a.services, svcSafety); err != nil {
		return err
	}
	if a.orch, err = container.ResolveAs[*orchestrator.Orchestrator](ctx, a.services, svcOrchestrator); err != nil {
		return err
	}
	if a.router, err = container.ResolveAs[*route.Router](ctx, a.services, svcRouter); err != nil {
		return err
	}
	if a.sched, err = container.ResolveAs[*sched.Scheduler](ctx, a.services, svcScheduler); err != nil {
		return err
	}

	if err := a.conv.Load(); err != nil {
		a.logger.Warn(ctx, "conversation history not loaded", "error", err)
	}
	if err := a.index.Scan(ctx); err != nil {
		return fmt.Errorf("index workspace: %w", err)
	}
	if err := a.index.StartWatching(ctx); err != nil {
		a.logger.Warn(ctx, "file watching unavailable", "error", err)
	}
	if err := a.sched.Start(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	a.logger.Info(ctx, "assistant ready",
		"workspace", a.root,
		"providers", len(a.providers.Providers()),
		"tools", len(a.registry.List()))
	return nil
}

// Shutdown stops maintenance, persists session state, and releases
// every service in reverse construction order. Safe to call more than
// once.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.started = false
	a.mu.Unlock()
	a.services.Shutdown(ctx)
	a.logger.Info(ctx, "assistant stopped")
	return nil
}

// Version returns the build version the App reports to users.
func (a *App) Version() string { return a.version }

// Workspace returns the absolute workspace root.
func (a *App) Workspace() string { return a.root }

func (a *App) isStarted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// workspacePath resolves a configured path against the workspace root.
func (a *App) workspacePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.root, p)
}

func (a *App) buildAudit(context.Context, *container.Container) (any, error) {
	cfg := audit.DefaultConfig()
	cfg.Enabled = a.cfg.Audit.AuditEnabled()
	cfg.Output = "file:" + a.workspacePath(a.cfg.Audit.Path)
	cfg.IncludeToolInput = !a.cfg.Audit.HashInputsEnabled()
	cfg.SampleRate = a.cfg.Audit.SampleRate
	cfg.BufferSize = a.cfg.Audit.BufferSize
	cfg.FlushInterval = a.cfg.Audit.FlushInterval
	return audit.Open(cfg)
}

func (a *App) buildProviders(ctx context.Context, _ *container.Container) (any, error) {
	r := router.New(router.Config{
		MaxFallbacks: a.cfg.Router.MaxFallbacks,
		Logger:       a.logger,
		Metrics:      a.metrics,
	})
	retry := providers.RetrySettings{
		MaxAttempts:  a.cfg.Providers.Retry.MaxAttempts,
		InitialDelay: a.cfg.Providers.Retry.InitialDelay,
		MaxDelay:     a.cfg.Providers.Retry.MaxDelay,
		Multiplier:   a.cfg.Providers.Retry.Multiplier,
	}
	for _, name := range a.cfg.Providers.EnabledProviders() {
		p, err := a.buildProvider(name, retry)
		if err != nil {
			a.logger.Warn(ctx, "provider unavailable", "provider", name, "error", err)
			continue
		}
		if err := r.Register(p); err != nil {
			a.logger.Warn(ctx, "provider not registered", "provider", name, "error", err)
		}
	}
	return r, nil
}

func (a *App) buildProvider(name string, retry providers.RetrySettings) (providers.Provider, error) {
	pc := &a.cfg.Providers
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  pc.Anthropic.APIKey,
			Model:   pc.Anthropic.Model,
			Timeout: pc.Anthropic.RequestTimeout,
			Retry:   retry,
			Logger:  a.logger,
		}), nil
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  pc.OpenAI.APIKey,
			BaseURL: pc.OpenAI.BaseURL,
			Model:   pc.OpenAI.Model,
			Timeout: pc.OpenAI.RequestTimeout,
			Retry:   retry,
			Logger:  a.logger,
		}), nil
	case "openrouter":
		return providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:  pc.OpenRouter.APIKey,
			Model:   pc.OpenRouter.Model,
			Timeout: pc.OpenRouter.RequestTimeout,
			Retry:   retry,
			Logger:  a.logger,
		}), nil
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:  pc.Bedrock.Region,
			Model:   pc.Bedrock.Model,
			Timeout: pc.Bedrock.RequestTimeout,
			Retry:   retry,
			Logger:  a.logger,
		})
	case "gemini":
		return providers.NewGeminiProvider(providers.GeminiConfig{
			APIKey:  pc.Gemini.APIKey,
			Model:   pc.Gemini.Model,
			Timeout: pc.Gemini.RequestTimeout,
			Retry:   retry,
			Logger:  a.logger,
		})
	case "local":
		return providers.NewLocalProvider(providers.LocalConfig{
			BaseURL: pc.Local.BaseURL,
			Model:   pc.Local.Model,
			Timeout: pc.Local.RequestTimeout,
			Retry:   retry,
			Logger:  a.logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func (a *App) buildFastpath(context.Context, *container.Container) (any, error) {
	return fastpath.New(fastpath.Config{
		Threshold:      a.cfg.Routing.FastPathThreshold,
		FuzzyThreshold: a.cfg.Routing.FuzzyThreshold,
		Budget:         a.cfg.Routing.FastPathBudget,
		Logger:         a.logger,
	})
}

func (a *App) buildIntent(ctx context.Context, c *container.Container) (any, error) {
	var completer intent.Completer
	if a.cfg.Routing.ModelRefinement {
		r, err := container.ResolveAs[*router.Router](ctx, c, svcProviders)
		if err != nil {
			return nil, err
		}
		completer = r
	}
	return intent.New(intent.Config{
		Completer:     completer,
		RefineTimeout: a.cfg.Routing.RefinementTimeout,
		Logger:        a.logger,
	}), nil
}

func (a *App) buildIndex(context.Context, *container.Container) (any, error) {
	return fileops.NewIndex(fileops.IndexConfig{
		Root:       a.root,
		MaxFiles:   a.cfg.Workspace.MaxIndexedFiles,
		IgnoreDirs: a.cfg.Workspace.IgnoreDirs,
		Logger:     a.logger,
	})
}

func (a *App) buildClassifier(ctx context.Context, c *container.Container) (any, error) {
	ix, err := container.ResolveAs[*fileops.Index](ctx, c, svcIndex)
	if err != nil {
		return nil, err
	}
	return fileops.NewClassifier(fileops.ClassifierConfig{
		Index:  ix,
		Logger: a.logger,
	}), nil
}

func (a *App) buildConversation(context.Context, *container.Container) (any, error) {
	return conversation.New(conversation.Config{
		MaxTurns:  a.cfg.Conversation.MaxTurns,
		MaxTokens: a.cfg.Conversation.MaxTokens,
		Strategy:  a.cfg.Conversation.Strategy,
		Path:      a.workspacePath(a.cfg.Conversation.PersistPath),
		Logger:    a.logger,
	}), nil
}

func (a *App) buildTools(context.Context, *container.Container) (any, error) {
	reg := tools.NewRegistry(tools.Config{Logger: a.logger, Metrics: a.metrics})
	fcfg := files.Config{
		Workspace:    a.root,
		MaxReadBytes: int(a.cfg.Tools.Files.MaxReadBytes),
		MaxEntries:   a.cfg.Tools.Files.MaxListEntries,
		MaxResults:   a.cfg.Tools.Files.MaxSearchResults,
	}
	set := []tools.Tool{
		files.NewReadTool(fcfg),
		files.NewListTool(fcfg),
		files.NewSearchTool(fcfg),
		files.NewWriteTool(fcfg),
		files.NewEditTool(fcfg),
	}
	if a.cfg.Tools.ShellEnabled() {
		set = append(set, shell.NewShellTool(a.root, a.cfg.Tools.Shell.Timeout), shell.NewGitTool(a.root))
	}
	for _, t := range set {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (a *App) buildSafety(ctx context.Context, c *container.Container) (any, error) {
	trail, err := container.ResolveAs[*audit.Log](ctx, c, svcAudit)
	if err != nil {
		return nil, err
	}
	sc := &a.cfg.Safety
	allowed := make([]string, 0, len(sc.AllowedPaths))
	for _, p := range sc.AllowedPaths {
		allowed = append(allowed, a.workspacePath(p))
	}
	denied := make([]string, 0, len(sc.DeniedPaths))
	for _, p := range sc.DeniedPaths {
		denied = append(denied, a.workspacePath(p))
	}
	return safety.New(safety.Config{
		BackupDir:               a.workspacePath(sc.BackupDir),
		Retention:               time.Duration(sc.RetentionDays) * 24 * time.Hour,
		MaxBackupsPerFile:       sc.MaxBackupsPerFile,
		ApprovalTimeout:         sc.ApprovalExpiry,
		MaxFileSize:             sc.MaxFileSize,
		AllowedPaths:            allowed,
		DeniedPaths:             denied,
		PreviewContextLines:     sc.PreviewContextLines,
		MaxPreviewLines:         sc.MaxPreviewLines,
		AutoRollback:            sc.AutoRollbackEnabled(),
		AutoRollbackMax:         models.RiskTier(sc.AutoRollbackMaxRisk),
		RequireExplicitApproval: sc.RequireExplicitApproval,
		Approver:                terminalApprover{term: a.term},
		Logger:                  a.logger,
		Metrics:                 a.metrics,
		Audit:                   trail,
	})
}

func (a *App) buildOrchestrator(ctx context.Context, c *container.Container) (any, error) {
	prov, err := container.ResolveAs[*router.Router](ctx, c, svcProviders)
	if err != nil {
		return nil, err
	}
	reg, err := container.ResolveAs[*tools.Registry](ctx, c, svcTools)
	if err != nil {
		return nil, err
	}
	trail, err := container.ResolveAs[*audit.Log](ctx, c, svcAudit)
	if err != nil {
		return nil, err
	}
	prompt := a.promptToolApproval
	if !a.cfg.Tools.ApprovalEnabled() {
		prompt = func(context.Context, models.ToolSchema, models.ToolCall) (bool, error) {
			return true, nil
		}
	}
	return orchestrator.New(orchestrator.Config{
		Streamer:            prov,
		Registry:            reg,
		Approvals:           approval.NewCache(),
		Prompt:              prompt,
		MaxToolCallsPerTurn: a.cfg.Orchestrator.MaxToolCallsPerTurn,
		MaxRounds:           a.cfg.Orchestrator.MaxRounds,
		ToolTimeout:         a.cfg.Tools.Timeout,
		Parallel:            a.cfg.Tools.MaxConcurrency > 1,
		MaxConcurrency:      a.cfg.Tools.MaxConcurrency,
		ResultsCacheSize:    a.cfg.Tools.CacheSize,
		ResultsCacheTTL:     a.cfg.Tools.CacheTTL,
		Logger:              a.logger,
		Metrics:             a.metrics,
		Audit:               trail,
	})
}

func (a *App) buildRouter(ctx context.Context, c *container.Container) (any, error) {
	matcher, err := container.ResolveAs[*fastpath.Matcher](ctx, c, svcFastpath)
	if err != nil {
		return nil, err
	}
	analyzer, err := container.ResolveAs[*intent.Analyzer](ctx, c, svcIntent)
	if err != nil {
		return nil, err
	}
	classifier, err := container.ResolveAs[*fileops.Classifier](ctx, c, svcClassifier)
	if err != nil {
		return nil, err
	}
	pl, err := container.ResolveAs[*planner](ctx, c, svcPlanner)
	if err != nil {
		return nil, err
	}
	conv, err := container.ResolveAs[*conversation.Store](ctx, c, svcConversation)
	if err != nil {
		return nil, err
	}
	return route.New(route.Config{
		Fastpath:          matcher,
		Intent:            analyzer,
		Files:             classifier,
		Planner:           pl,
		Prompts:           conv,
		Cutoff:            a.cfg.Routing.FastPathCutoff,
		PlannerConfidence: a.cfg.Routing.PlannerConfidence,
		Logger:            a.logger,
		Metrics:           a.metrics,
	})
}

// buildScheduler wires the three background maintenance jobs. Missing
// schedules fall back to intervals from the sections they serve.
func (a *App) buildScheduler(ctx context.Context, c *container.Container) (any, error) {
	prov, err := container.ResolveAs[*router.Router](ctx, c, svcProviders)
	if err != nil {
		return nil, err
	}
	conv, err := container.ResolveAs[*conversation.Store](ctx, c, svcConversation)
	if err != nil {
		return nil, err
	}
	pipe, err := container.ResolveAs[*safety.Pipeline](ctx, c, svcSafety)
	if err != nil {
		return nil, err
	}

	s := sched.New(sched.WithLogger(a.logger))
	jobs := []struct {
		name string
		spec string
		run  sched.JobFunc
	}{
		{
			name: "provider-health",
			spec: scheduleOr(a.cfg.Maintenance.HealthProbeSchedule, a.cfg.Router.RetestInterval),
			run: func(ctx context.Context) error {
				prov.RetestUnhealthy(ctx)
				return nil
			},
		},
		{
			name: "conversation-autosave",
			spec: scheduleOr(a.cfg.Maintenance.AutosaveSchedule, a.cfg.Conversation.AutosaveInterval),
			run: func(context.Context) error {
				return conv.Persist()
			},
		},
		{
			name: "backup-sweep",
			spec: scheduleOr(a.cfg.Maintenance.BackupSweepSchedule, time.Hour),
			run: func(ctx context.Context) error {
				_, err := pipe.PruneBackups(ctx)
				return err
			},
		},
	}
	for _, j := range jobs {
		if err := s.Add(j.name, j.spec, j.run); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func scheduleOr(spec string, every time.Duration) string {
	if spec != "" {
		return spec
	}
	return "@every " + every.String()
}
