package models

import "time"

// Capability is a named feature a provider advertises.
type Capability string

const (
	CapStreaming       Capability = "streaming"
	CapFunctionCalling Capability = "function_calling"
	CapImageInput      Capability = "image_input"
	CapDocumentInput   Capability = "document_input"
	CapLargeContext    Capability = "large_context"
)

// Features are the boolean capability flags every provider reports.
type Features struct {
	Streaming       bool `json:"streaming"`
	FunctionCalling bool `json:"function_calling"`
	ImageInput      bool `json:"image_input"`
	DocumentInput   bool `json:"document_input"`
}

// RateLimits describes a provider's advertised request ceilings.
// Zero values mean "not published".
type RateLimits struct {
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
	TokensPerMinute   int `json:"tokens_per_minute,omitempty"`
}

// Capabilities is the full capability surface of one provider.
type Capabilities struct {
	MaxContext int                 `json:"max_context"`
	Features   Features            `json:"features"`
	Supported  map[Capability]bool `json:"supported,omitempty"`
	RateLimits RateLimits          `json:"rate_limits"`
}

// Supports reports whether every requested capability is advertised.
func (c Capabilities) Supports(required []Capability) bool {
	for _, cap := range required {
		if !c.Supported[cap] {
			return false
		}
	}
	return true
}

// ModelInfo describes one model a provider can serve.
type ModelInfo struct {
	ID            string  `json:"id"`
	Name          string  `json:"name,omitempty"`
	ContextWindow int     `json:"context_window,omitempty"`
	// Prices are USD per million tokens.
	InputPricePerMTok  float64 `json:"input_price_per_mtok,omitempty"`
	OutputPricePerMTok float64 `json:"output_price_per_mtok,omitempty"`
}

// HealthStatus is the coarse availability state of a provider.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// ProviderHealth is a point-in-time health snapshot.
type ProviderHealth struct {
	Status              HealthStatus `json:"status"`
	LastCheck           time.Time    `json:"last_check"`
	LastError           string       `json:"last_error,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
}

// ProviderMetrics is a snapshot of one provider's counters since
// process start. AvgLatencyMS is derived at read time.
type ProviderMetrics struct {
	Requests       int64   `json:"requests"`
	Successes      int64   `json:"successes"`
	Failures       int64   `json:"failures"`
	TotalTokens    int64   `json:"total_tokens"`
	TotalCost      float64 `json:"total_cost"`
	TotalLatencyMS int64   `json:"total_latency_ms"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
}
