// Package model manages the typed registry of candidate image-editing models
// and the reasoning models used for enhancement and validation.
package model

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Params holds model-specific generation knobs.
type Params struct {
	// OutputFormat is the requested output encoding (png, jpeg, webp).
	OutputFormat string `json:"output_format,omitempty"`
	// Resolution is the resolution tier understood by the remote model.
	Resolution string `json:"resolution,omitempty"`
	// Seed fixes the generation seed. -1 lets the remote side choose.
	Seed int `json:"seed,omitempty"`
}

// ImageModel describes one candidate image-editing model. Model-specific
// behavior comes from this record, never from substring checks on the name.
type ImageModel struct {
	// LogicalName is the name used throughout the pipeline and in results.
	LogicalName string `json:"logical_name"`
	// RemotePath is the gateway path the edit job is submitted to.
	RemotePath string `json:"remote_path"`
	// DefaultParams are the knobs sent with every job for this model.
	DefaultParams Params `json:"default_params"`
	// SupportedOptions lists the request fields the remote model accepts
	// (aspect_ratio, resolution, seed, output_format).
	SupportedOptions []string `json:"supported_options,omitempty"`
}

// Supports reports whether the model accepts the given request option.
func (m ImageModel) Supports(option string) bool {
	for _, opt := range m.SupportedOptions {
		if opt == option {
			return true
		}
	}
	return false
}

// ReasoningModels names the reasoning-gateway models used by the pipeline.
type ReasoningModels struct {
	// Enhancer expands user requests into model-specific instructions.
	Enhancer string `json:"enhancer"`
	// Validator scores edited images against the request.
	Validator string `json:"validator"`
	// SecondValidator is the consensus partner for dual validation.
	SecondValidator string `json:"second_validator"`
}

// Registry manages the candidate model set. Candidate order is significant:
// result tie-breaks preserve enumeration order.
type Registry struct {
	mu         sync.RWMutex
	models     map[string]*ImageModel
	candidates []string
	reasoning  ReasoningModels
}

// NewRegistry creates a registry from an ordered candidate list.
func NewRegistry(models []ImageModel, reasoning ReasoningModels) (*Registry, error) {
	r := &Registry{
		models:    make(map[string]*ImageModel, len(models)),
		reasoning: reasoning,
	}
	for i := range models {
		m := models[i]
		if m.LogicalName == "" {
			return nil, fmt.Errorf("model %d: logical name is required", i)
		}
		if m.RemotePath == "" {
			return nil, fmt.Errorf("model %q: remote path is required", m.LogicalName)
		}
		if _, exists := r.models[m.LogicalName]; exists {
			return nil, fmt.Errorf("duplicate model %q", m.LogicalName)
		}
		r.models[m.LogicalName] = &m
		r.candidates = append(r.candidates, m.LogicalName)
	}
	return r, nil
}

// NewDefaultRegistry creates a registry with the stock candidate set.
func NewDefaultRegistry() *Registry {
	r, _ := NewRegistry([]ImageModel{
		{
			LogicalName:      "seedream-v4",
			RemotePath:       "bytedance/seedream-v4/edit",
			DefaultParams:    Params{OutputFormat: "png", Seed: -1},
			SupportedOptions: []string{"aspect_ratio", "seed", "output_format"},
		},
		{
			LogicalName:      "qwen-edit-plus",
			RemotePath:       "alibaba/qwen-image/edit-plus",
			DefaultParams:    Params{OutputFormat: "png", Seed: -1},
			SupportedOptions: []string{"seed", "output_format"},
		},
		{
			LogicalName:      "nano-banana-pro-edit",
			RemotePath:       "google/nano-banana-pro/edit",
			DefaultParams:    Params{OutputFormat: "png", Resolution: "2k", Seed: -1},
			SupportedOptions: []string{"aspect_ratio", "resolution", "output_format"},
		},
	}, ReasoningModels{
		Enhancer:        "anthropic/claude-sonnet-4",
		Validator:       "openai/gpt-5",
		SecondValidator: "google/gemini-2.5-pro",
	})
	return r
}

// Get returns the model record for a logical name, or nil if unknown.
func (r *Registry) Get(name string) *ImageModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.models[name]; ok {
		cp := *m
		return &cp
	}
	return nil
}

// Candidates returns the candidate models in enumeration order.
func (r *Registry) Candidates() []ImageModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ImageModel, 0, len(r.candidates))
	for _, name := range r.candidates {
		out = append(out, *r.models[name])
	}
	return out
}

// CandidateNames returns the logical names in enumeration order.
func (r *Registry) CandidateNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// Reasoning returns the configured reasoning model names.
func (r *Registry) Reasoning() ReasoningModels {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reasoning
}

// SetModel adds or replaces a candidate model. New models append to the
// enumeration order.
func (r *Registry) SetModel(m ImageModel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[m.LogicalName]; !exists {
		r.candidates = append(r.candidates, m.LogicalName)
	}
	r.models[m.LogicalName] = &m
}

// MarshalJSON implements json.Marshaler.
func (r *Registry) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]ImageModel, 0, len(r.candidates))
	for _, name := range r.candidates {
		models = append(models, *r.models[name])
	}
	return json.Marshal(struct {
		Models    []ImageModel    `json:"models"`
		Reasoning ReasoningModels `json:"reasoning"`
	}{Models: models, Reasoning: r.reasoning})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var tmp struct {
		Models    []ImageModel    `json:"models"`
		Reasoning ReasoningModels `json:"reasoning"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}

	loaded, err := NewRegistry(tmp.Models, tmp.Reasoning)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = loaded.models
	r.candidates = loaded.candidates
	r.reasoning = loaded.reasoning
	return nil
}
