package providers

import (
	"strings"

	"github.com/haasonsaas/forge/pkg/models"
)

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Pricing tables are keyed by model-ID prefix so dated releases
// (claude-sonnet-4-20250514) price like their family. Longest matching
// prefix wins; unknown models cost zero.

var anthropicPricing = map[string]ModelPricing{
	"claude-opus-4":    {15.00, 75.00},
	"claude-sonnet-4":  {3.00, 15.00},
	"claude-haiku-3-5": {0.80, 4.00},
	"claude-3-5-haiku": {0.80, 4.00},
}

var openaiPricing = map[string]ModelPricing{
	"gpt-4o-mini":  {0.15, 0.60},
	"gpt-4o":       {2.50, 10.00},
	"gpt-4.1-mini": {0.40, 1.60},
	"gpt-4.1-nano": {0.10, 0.40},
	"gpt-4.1":      {2.00, 8.00},
	"o3-mini":      {1.10, 4.40},
}

var geminiPricing = map[string]ModelPricing{
	"gemini-2.0-flash-lite": {0.0, 0.0},
	"gemini-2.0-flash":      {0.10, 0.40},
	"gemini-2.5-flash":      {0.15, 0.60},
	"gemini-2.5-pro":        {1.25, 10.00},
}

var bedrockPricing = map[string]ModelPricing{
	"anthropic.claude-opus-4":    {15.00, 75.00},
	"anthropic.claude-sonnet-4":  {3.00, 15.00},
	"anthropic.claude-3-5-haiku": {0.80, 4.00},
	"amazon.nova-pro":            {0.80, 3.20},
	"amazon.nova-lite":           {0.06, 0.24},
	"meta.llama3-1-70b":          {0.72, 0.72},
}

var openrouterPricing = map[string]ModelPricing{
	"anthropic/claude-opus-4":           {15.00, 75.00},
	"anthropic/claude-sonnet-4":         {3.00, 15.00},
	"openai/gpt-4o":                     {2.50, 10.00},
	"google/gemini-2.0-flash":           {0.10, 0.40},
	"meta-llama/llama-3.1-70b-instruct": {0.30, 0.40},
}

// pricingFor resolves a model against one provider's table, exact
// match first, then longest matching prefix.
func pricingFor(table map[string]ModelPricing, model string) (ModelPricing, bool) {
	if p, ok := table[model]; ok {
		return p, true
	}
	best := -1
	var match ModelPricing
	for prefix, p := range table {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			best = len(prefix)
			match = p
		}
	}
	if best < 0 {
		return ModelPricing{}, false
	}
	return match, true
}

// costFor prices a usage record against one provider's table.
func costFor(table map[string]ModelPricing, model string, usage models.Usage) float64 {
	p, ok := pricingFor(table, model)
	if !ok {
		return 0
	}
	return tokenCost(p, usage)
}

func tokenCost(p ModelPricing, usage models.Usage) float64 {
	return float64(usage.PromptTokens)/1_000_000*p.InputPerMillion +
		float64(usage.CompletionTokens)/1_000_000*p.OutputPerMillion
}
