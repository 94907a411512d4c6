package providers

import (
	"testing"

	"github.com/haasonsaas/forge/pkg/models"
)

func TestPricingFor(t *testing.T) {
	table := map[string]ModelPricing{
		"gpt-4o":      {2.50, 10.00},
		"gpt-4o-mini": {0.15, 0.60},
	}

	// Exact match.
	p, ok := pricingFor(table, "gpt-4o")
	if !ok || p.InputPerMillion != 2.50 {
		t.Errorf("exact match = %+v, %v", p, ok)
	}

	// Longest prefix wins over the shorter one.
	p, ok = pricingFor(table, "gpt-4o-mini-2024-07-18")
	if !ok || p.InputPerMillion != 0.15 {
		t.Errorf("dated mini = %+v, %v; want mini pricing", p, ok)
	}

	// Dated release of the base model falls to the base prefix.
	p, ok = pricingFor(table, "gpt-4o-2024-11-20")
	if !ok || p.InputPerMillion != 2.50 {
		t.Errorf("dated base = %+v, %v; want base pricing", p, ok)
	}

	if _, ok := pricingFor(table, "claude-opus-4"); ok {
		t.Error("unknown model matched")
	}
}

func TestCostFor(t *testing.T) {
	usage := models.Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000}

	got := costFor(openaiPricing, "gpt-4o", usage)
	want := 2.50 + 0.5*10.00
	if got != want {
		t.Errorf("costFor = %v, want %v", got, want)
	}

	if got := costFor(openaiPricing, "mystery-model", usage); got != 0 {
		t.Errorf("unknown model cost = %v, want 0", got)
	}

	if got := costFor(anthropicPricing, "claude-sonnet-4-20250514", models.Usage{}); got != 0 {
		t.Errorf("zero usage cost = %v, want 0", got)
	}
}

func TestCatalogWithPricing(t *testing.T) {
	catalog := []models.ModelInfo{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4"},
		{ID: "mystery-model", Name: "Mystery"},
	}

	got := catalogWithPricing(catalog, anthropicPricing)

	if got[0].InputPricePerMTok != 3.00 || got[0].OutputPricePerMTok != 15.00 {
		t.Errorf("sonnet pricing = %v/%v", got[0].InputPricePerMTok, got[0].OutputPricePerMTok)
	}
	if got[1].InputPricePerMTok != 0 {
		t.Errorf("unknown model got pricing %v", got[1].InputPricePerMTok)
	}

	// The input catalog is left untouched.
	if catalog[0].InputPricePerMTok != 0 {
		t.Error("catalogWithPricing mutated its input")
	}
}
