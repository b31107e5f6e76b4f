package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAgent is returned when an agent id is not present in the registry.
// It is a caller error, never a transient fault.
var ErrUnknownAgent = errors.New("unknown agent")

// DefaultBaseURL is the agent platform base URL used when none is configured
const DefaultBaseURL = "https://api.airia.com"

// pipelinePath is appended to the base URL to derive a default target
const pipelinePath = "/v2/PipelineExecution/"

// Descriptor identifies one remote agent.
// ID is the join key between a request and its outcome; Name is display only.
type Descriptor struct {
	Name   string `yaml:"name" json:"name"`
	ID     string `yaml:"id" json:"id"`
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
}

// Registry is an immutable, ordered table of agent descriptors
type Registry struct {
	baseURL     string
	descriptors []Descriptor
	byID        map[string]int
}

// NewRegistry builds a registry. Ids and names must be non-empty and unique.
// Descriptors without a target get one derived from baseURL and their id.
func NewRegistry(baseURL string, descriptors ...Descriptor) (*Registry, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	r := &Registry{
		baseURL:     baseURL,
		descriptors: make([]Descriptor, 0, len(descriptors)),
		byID:        make(map[string]int, len(descriptors)),
	}
	names := make(map[string]struct{}, len(descriptors))

	for i, d := range descriptors {
		d.ID = strings.TrimSpace(d.ID)
		d.Name = strings.TrimSpace(d.Name)
		if d.ID == "" {
			return nil, fmt.Errorf("agent at position %d has an empty id", i)
		}
		if d.Name == "" {
			return nil, fmt.Errorf("agent %s has an empty name", d.ID)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate agent id %s", d.ID)
		}
		if _, dup := names[d.Name]; dup {
			return nil, fmt.Errorf("duplicate agent name %q", d.Name)
		}
		if d.Target == "" {
			d.Target = DeriveTarget(baseURL, d.ID)
		}
		names[d.Name] = struct{}{}
		r.byID[d.ID] = len(r.descriptors)
		r.descriptors = append(r.descriptors, d)
	}

	return r, nil
}

// MustNewRegistry is NewRegistry that panics on error. Intended for tests and static tables.
func MustNewRegistry(baseURL string, descriptors ...Descriptor) *Registry {
	r, err := NewRegistry(baseURL, descriptors...)
	if err != nil {
		panic(err)
	}
	return r
}

// DeriveTarget returns the default invocation address for an agent id
func DeriveTarget(baseURL, id string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/") + pipelinePath + id
}

// Resolve looks up a descriptor by id
func (r *Registry) Resolve(id string) (Descriptor, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// MustResolve returns the descriptor or an error wrapping ErrUnknownAgent
func (r *Registry) MustResolve(id string) (Descriptor, error) {
	d, ok := r.Resolve(id)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return d, nil
}

// All returns every descriptor in registration order. The slice is a copy.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// IDs returns every agent id in registration order
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.descriptors))
	for i, d := range r.descriptors {
		ids[i] = d.ID
	}
	return ids
}

// Len returns the number of registered agents
func (r *Registry) Len() int {
	return len(r.descriptors)
}

// BaseURL returns the base URL targets are derived from
func (r *Registry) BaseURL() string {
	return r.baseURL
}
