package llmbus

import "context"

// ResourceUsage reports the cost of one LLM call. All fields are >= 0 and
// the bus emits one of these as telemetry after each successful call;
// a failed call emits none (§4.4).
type ResourceUsage struct {
	TokensInput  int
	TokensOutput int
	TokensTotal  int
	CostCents    float64
	WaterML      float64
	CarbonG      float64
	EnergyKWh    float64
	ModelUsed    string
}

// Message is one turn in the conversation sent to an LLM provider.
type Message struct {
	Role    string
	Content string
}

// Provider is the contract every LLM service implementation satisfies.
// Capabilities() must include "call_llm_structured" to be eligible for
// selection.
type Provider interface {
	CallLLMStructured(ctx context.Context, messages []Message, responseSchema interface{}, maxTokens int, temperature float64) (interface{}, ResourceUsage, error)
	IsHealthy(ctx context.Context) bool
	Capabilities() []string
}

// CapabilityStructured is the capability string a provider must advertise
// to participate in generate_structured dispatch.
const CapabilityStructured = "call_llm_structured"

// ServiceMetrics tracks a provider's running call statistics, used both
// for the least_loaded/latency_based selection strategies and for
// external introspection (§3's ServiceMetrics type).
type ServiceMetrics struct {
	TotalRequests      int64
	FailedRequests     int64
	TotalLatencyMs     int64
	ConsecutiveFailures int
}

// AverageLatencyMs is TotalLatencyMs/TotalRequests, or 0 with no requests
// yet (a provider with zero requests is tried first under latency_based
// selection, per §4.4).
func (m ServiceMetrics) AverageLatencyMs() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.TotalLatencyMs) / float64(m.TotalRequests)
}

// FailureRate is FailedRequests/TotalRequests, or 0 with no requests yet.
func (m ServiceMetrics) FailureRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.FailedRequests) / float64(m.TotalRequests)
}
