package llmbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meridian-run/meridian/ai"
)

// AIClientAdapter bridges the teacher's generic ai.AIClient interface
// (config-resolution/auto-detection for a vendor LLM client, vendor wire
// clients themselves excluded per the spec's Non-goals) onto the
// llmbus.Provider contract §4.4's generate_structured dispatch expects.
// It is the one place this repo turns a plain-text completion into the
// "structured" response the bus promises: it appends a JSON-only
// instruction to the prompt and unmarshals whatever comes back into a
// map, leaving schema validation to the caller.
type AIClientAdapter struct {
	client       ai.AIClient
	capabilities []string
	model        string
	maxTokens    int
}

// NewAIClientAdapter wraps client for registration as an llmbus.Provider.
// capabilities should include CapabilityStructured or the bus will never
// select it.
func NewAIClientAdapter(client ai.AIClient, model string, capabilities []string) *AIClientAdapter {
	return &AIClientAdapter{client: client, model: model, capabilities: capabilities}
}

// CallLLMStructured renders messages plus a JSON-only instruction into a
// single prompt, calls the wrapped client, and unmarshals the response
// body into a map[string]interface{} for the caller to interpret against
// its own responseSchema.
func (a *AIClientAdapter) CallLLMStructured(ctx context.Context, messages []Message, responseSchema interface{}, maxTokens int, temperature float64) (interface{}, ResourceUsage, error) {
	prompt := renderPrompt(messages, responseSchema)

	resp, err := a.client.GenerateResponse(ctx, prompt, &ai.AIOptions{
		Model:       a.model,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, ResourceUsage{}, fmt.Errorf("llmbus: ai client call: %w", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(resp.Content), &decoded); err != nil {
		return nil, ResourceUsage{}, fmt.Errorf("llmbus: response was not valid JSON: %w", err)
	}

	usage := ResourceUsage{
		TokensInput:  resp.Usage.PromptTokens,
		TokensOutput: resp.Usage.CompletionTokens,
		TokensTotal:  resp.Usage.TotalTokens,
		ModelUsed:    resp.Model,
	}
	return decoded, usage, nil
}

// IsHealthy always reports true; ai.AIClient carries no independent
// health probe, so the circuit breaker layered over this provider by the
// bus is what actually trips on repeated failures.
func (a *AIClientAdapter) IsHealthy(ctx context.Context) bool { return true }

// Capabilities returns the capability list given at construction time.
func (a *AIClientAdapter) Capabilities() []string { return a.capabilities }

func renderPrompt(messages []Message, responseSchema interface{}) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\nRespond with a single JSON object only, no surrounding prose")
	if responseSchema != nil {
		schemaJSON, err := json.Marshal(responseSchema)
		if err == nil {
			fmt.Fprintf(&b, " matching this shape: %s", string(schemaJSON))
		}
	}
	b.WriteString(".\n")
	return b.String()
}
