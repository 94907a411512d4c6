package models

// CompletionOptions tunes a single completion request. Unset fields
// take provider-scoped defaults; pointer fields distinguish "unset"
// from a deliberate zero.
type CompletionOptions struct {
	Model         string       `json:"model,omitempty"`
	Temperature   *float64     `json:"temperature,omitempty"`
	TopP          *float64     `json:"top_p,omitempty"`
	TopK          *int         `json:"top_k,omitempty"`
	MaxTokens     int          `json:"max_tokens,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
	Stream        bool         `json:"stream"`
	Tools         []ToolSchema `json:"tools,omitempty"`
	System        string       `json:"system,omitempty"`
	TimeoutMS     int          `json:"timeout_ms,omitempty"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamEvent is one discrete chunk of a streamed completion.
//
// Events are delivered strictly in order. Exactly one event per stream
// carries Done=true and it is the final event; no content follows it.
type StreamEvent struct {
	Delta     string     `json:"delta,omitempty"`
	Done      bool       `json:"done"`
	Usage     *Usage     `json:"usage,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// CompletionResponse is the result of a blocking completion.
type CompletionResponse struct {
	Content   string     `json:"content"`
	Model     string     `json:"model,omitempty"`
	Provider  string     `json:"provider,omitempty"`
	Usage     Usage      `json:"usage"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// FinishReason mirrors the backend's stop reason when one is reported
	// (stop, length, tool_calls).
	FinishReason string `json:"finish_reason,omitempty"`
}
