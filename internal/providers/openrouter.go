package providers

import (
	"strings"
	"time"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

const openrouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterConfig configures the OpenRouter provider.
type OpenRouterConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Retry   RetrySettings
	Logger  *observability.Logger
}

// openrouterCatalog is the curated model set. OpenRouter fronts
// hundreds of models; these are the ones this tool routes to.
var openrouterCatalog = []models.ModelInfo{
	{ID: "anthropic/claude-opus-4", Name: "Claude Opus 4 (OpenRouter)", ContextWindow: 200000},
	{ID: "anthropic/claude-sonnet-4", Name: "Claude Sonnet 4 (OpenRouter)", ContextWindow: 200000},
	{ID: "openai/gpt-4o", Name: "GPT-4o (OpenRouter)", ContextWindow: 128000},
	{ID: "google/gemini-2.0-flash", Name: "Gemini 2.0 Flash (OpenRouter)", ContextWindow: 1048576},
	{ID: "meta-llama/llama-3.1-70b-instruct", Name: "Llama 3.1 70B (OpenRouter)", ContextWindow: 131072},
}

// NewOpenRouterProvider creates a provider for OpenRouter's
// OpenAI-compatible API.
func NewOpenRouterProvider(cfg OpenRouterConfig) *OpenAIProvider {
	p := &OpenAIProvider{
		base:    newBase("openrouter", "OpenRouter", cfg.Retry, cfg.Logger),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: openrouterBaseURL,
		model:   strings.TrimSpace(cfg.Model),
		timeout: cfg.Timeout,
		pricing: openrouterPricing,
		catalog: catalogWithPricing(openrouterCatalog, openrouterPricing),
		caps: models.Capabilities{
			MaxContext: 200000,
			Features: models.Features{
				Streaming:       true,
				FunctionCalling: true,
			},
			Supported: map[models.Capability]bool{
				models.CapStreaming:       true,
				models.CapFunctionCalling: true,
			},
		},
	}
	if p.timeout <= 0 {
		p.timeout = 2 * time.Minute
	}
	p.client = newOpenAIClient(p.apiKey, p.baseURL)
	return p
}

func catalogWithPricing(catalog []models.ModelInfo, pricing map[string]ModelPricing) []models.ModelInfo {
	out := make([]models.ModelInfo, len(catalog))
	copy(out, catalog)
	for i := range out {
		if price, ok := pricingFor(pricing, out[i].ID); ok {
			out[i].InputPricePerMTok = price.InputPerMillion
			out[i].OutputPricePerMTok = price.OutputPerMillion
		}
	}
	return out
}
