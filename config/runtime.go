package config

import (
	"context"
	"sync"

	"github.com/meridian-run/meridian/feedback"
)

// RuntimeState holds the live, mutable configuration surfaces an
// AdaptationProposal can touch (§4.9's per-pattern-type strategy
// table): tool preferences, response-template caching, disabled
// capabilities, and behavior timeouts. It is distinct from Config,
// which is the process's static startup configuration — proposals
// never rewrite the YAML file, they mutate this in-memory surface
// (§4.10's "apply admitted proposals through an injected
// ConfigApplier").
type RuntimeState struct {
	mu sync.RWMutex

	ToolPreferences      map[string]interface{}
	ResponseTemplates    map[string]interface{}
	DisabledCapabilities map[string]bool
	BehaviorConfig        map[string]interface{}
}

// NewRuntimeState creates an empty RuntimeState.
func NewRuntimeState() *RuntimeState {
	return &RuntimeState{
		ToolPreferences:      make(map[string]interface{}),
		ResponseTemplates:    make(map[string]interface{}),
		DisabledCapabilities: make(map[string]bool),
		BehaviorConfig:       make(map[string]interface{}),
	}
}

// ApplyProposal implements selfconfig.ConfigApplier: it fans an admitted
// proposal's per-ConfigType change maps out to the matching RuntimeState
// surface. CAPABILITY_LIMITS changes use the "disable_<cap>" key
// convention from §4.9's frequency-underused strategy.
func (s *RuntimeState) ApplyProposal(_ context.Context, p feedback.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for configType, changes := range p.ProposedChanges {
		switch configType {
		case feedback.ConfigToolPreferences:
			for k, v := range changes {
				s.ToolPreferences[k] = v
			}
		case feedback.ConfigResponseTemplates:
			for k, v := range changes {
				s.ResponseTemplates[k] = v
			}
		case feedback.ConfigCapabilityLimits:
			for k, v := range changes {
				if disable, ok := v.(bool); ok {
					s.DisabledCapabilities[k] = disable
				}
			}
		case feedback.ConfigBehaviorConfig:
			for k, v := range changes {
				s.BehaviorConfig[k] = v
			}
		}
	}
	return nil
}

// Snapshot returns a deep-enough copy of the current runtime state for
// read-only inspection (e.g. a status endpoint).
func (s *RuntimeState) Snapshot() RuntimeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := RuntimeState{
		ToolPreferences:      make(map[string]interface{}, len(s.ToolPreferences)),
		ResponseTemplates:    make(map[string]interface{}, len(s.ResponseTemplates)),
		DisabledCapabilities: make(map[string]bool, len(s.DisabledCapabilities)),
		BehaviorConfig:       make(map[string]interface{}, len(s.BehaviorConfig)),
	}
	for k, v := range s.ToolPreferences {
		out.ToolPreferences[k] = v
	}
	for k, v := range s.ResponseTemplates {
		out.ResponseTemplates[k] = v
	}
	for k, v := range s.DisabledCapabilities {
		out.DisabledCapabilities[k] = v
	}
	for k, v := range s.BehaviorConfig {
		out.BehaviorConfig[k] = v
	}
	return out
}

// CapabilityDisabled reports whether a capability was disabled by an
// applied CAPABILITY_LIMITS proposal.
func (s *RuntimeState) CapabilityDisabled(capability string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DisabledCapabilities["disable_"+capability]
}
