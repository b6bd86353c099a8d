package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Capability is a coarse feature area declared during the handshake.
type Capability string

// Client capabilities
const (
	CapabilitySampling    Capability = "sampling"
	CapabilityRoots       Capability = "roots"
	CapabilityElicitation Capability = "elicitation"
)

// Server capabilities
const (
	CapabilityResources   Capability = "resources"
	CapabilityTools       Capability = "tools"
	CapabilityPrompts     Capability = "prompts"
	CapabilityLogging     Capability = "logging"
	CapabilityCompletions Capability = "completions"
)

var clientCapabilities = map[Capability]bool{
	CapabilitySampling:    true,
	CapabilityRoots:       true,
	CapabilityElicitation: true,
}

var serverCapabilities = map[Capability]bool{
	CapabilityResources:   true,
	CapabilityTools:       true,
	CapabilityPrompts:     true,
	CapabilityLogging:     true,
	CapabilityCompletions: true,
}

// IsClient reports whether c is declared by clients.
func (c Capability) IsClient() bool { return clientCapabilities[c] }

// IsServer reports whether c is declared by servers.
func (c Capability) IsServer() bool { return serverCapabilities[c] }

// Feature is an optional boolean sub-option of a capability.
type Feature string

const (
	FeatureListChanged Feature = "listChanged"
	FeatureSubscribe   Feature = "subscribe"
)

// Declaration is one capability with the features enabled for it.
type Declaration struct {
	Capability Capability
	Features   []Feature
}

// Declare builds a Declaration.
func Declare(c Capability, features ...Feature) Declaration {
	return Declaration{Capability: c, Features: features}
}

// CapabilitySet is the immutable set of capabilities one side declared.
// Feature flags are false unless declared.
type CapabilitySet struct {
	entries      map[Capability]map[Feature]bool
	experimental map[string]json.RawMessage
}

// NewCapabilitySet builds a set from declarations. Repeated declarations of
// the same capability merge their features.
func NewCapabilitySet(decls ...Declaration) CapabilitySet {
	s := CapabilitySet{entries: make(map[Capability]map[Feature]bool, len(decls))}
	for _, d := range decls {
		features, ok := s.entries[d.Capability]
		if !ok {
			features = make(map[Feature]bool)
			s.entries[d.Capability] = features
		}
		for _, f := range d.Features {
			features[f] = true
		}
	}
	return s
}

// Has reports whether the capability was declared.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s.entries[c]
	return ok
}

// Feature reports whether the capability was declared with feature enabled.
func (s CapabilitySet) Feature(c Capability, f Feature) bool {
	return s.entries[c][f]
}

// List returns the declared capabilities in lexical order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s.entries))
	for c := range s.entries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of declared capabilities.
func (s CapabilitySet) Len() int {
	return len(s.entries)
}

// Experimental returns an undeclared-by-this-engine capability received from
// the peer, verbatim.
func (s CapabilitySet) Experimental(name string) (json.RawMessage, bool) {
	raw, ok := s.experimental[name]
	return raw, ok
}

// Validate checks that every declared capability belongs to the given side.
func (s CapabilitySet) Validate(server bool) error {
	for c := range s.entries {
		if server && !c.IsServer() {
			return fmt.Errorf("capability %q cannot be declared by a server", c)
		}
		if !server && !c.IsClient() {
			return fmt.Errorf("capability %q cannot be declared by a client", c)
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(s.entries)+len(s.experimental))
	for name, raw := range s.experimental {
		out[name] = raw
	}
	for c, features := range s.entries {
		obj := make(map[string]bool, len(features))
		for f, on := range features {
			if on {
				obj[string(f)] = true
			}
		}
		out[string(c)] = obj
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. Unknown capability names are
// kept as experimental entries; non-boolean feature values are ignored.
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = NewCapabilitySet()
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid capabilities: %w", err)
	}
	set := NewCapabilitySet()
	for name, value := range raw {
		c := Capability(name)
		if !c.IsClient() && !c.IsServer() {
			if set.experimental == nil {
				set.experimental = make(map[string]json.RawMessage)
			}
			set.experimental[name] = value
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(value, &fields); err != nil {
			return fmt.Errorf("invalid capability %q: %w", name, err)
		}
		features := make(map[Feature]bool)
		for k, v := range fields {
			var on bool
			if json.Unmarshal(v, &on) == nil && on {
				features[Feature(k)] = true
			}
		}
		set.entries[c] = features
	}
	*s = set
	return nil
}

// Requirement is the capability a method needs the callee to have declared.
type Requirement struct {
	Capability Capability
	Feature    Feature
}

var methodRequirements = map[string]Requirement{
	MethodListTools:             {Capability: CapabilityTools},
	MethodCallTool:              {Capability: CapabilityTools},
	MethodListResources:         {Capability: CapabilityResources},
	MethodListResourceTemplates: {Capability: CapabilityResources},
	MethodReadResource:          {Capability: CapabilityResources},
	MethodSubscribeResource:     {Capability: CapabilityResources, Feature: FeatureSubscribe},
	MethodUnsubscribeResource:   {Capability: CapabilityResources, Feature: FeatureSubscribe},
	MethodListPrompts:           {Capability: CapabilityPrompts},
	MethodGetPrompt:             {Capability: CapabilityPrompts},
	MethodComplete:              {Capability: CapabilityCompletions},
	MethodSetLogLevel:           {Capability: CapabilityLogging},
	MethodCreateMessage:         {Capability: CapabilitySampling},
	MethodListRoots:             {Capability: CapabilityRoots},
	MethodElicit:                {Capability: CapabilityElicitation},
}

// MethodRequirement returns the capability guarding method, if any.
func MethodRequirement(method string) (Requirement, bool) {
	r, ok := methodRequirements[method]
	return r, ok
}

// CapabilityError reports a call outside the callee's declared contract.
type CapabilityError struct {
	Method     string
	Capability Capability
	Feature    Feature
}

func (e *CapabilityError) Error() string {
	if e.Feature != "" {
		return fmt.Sprintf("method %s requires capability %s with feature %s", e.Method, e.Capability, e.Feature)
	}
	return fmt.Sprintf("method %s requires capability %s", e.Method, e.Capability)
}

// CheckCallee verifies that callee declared what method needs. Methods
// without a requirement always pass.
func CheckCallee(method string, callee CapabilitySet) error {
	r, ok := methodRequirements[method]
	if !ok {
		return nil
	}
	if !callee.Has(r.Capability) || (r.Feature != "" && !callee.Feature(r.Capability, r.Feature)) {
		return &CapabilityError{Method: method, Capability: r.Capability, Feature: r.Feature}
	}
	return nil
}
