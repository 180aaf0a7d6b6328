package types

import (
	"encoding/json"
	"sort"
	"strings"
)

// Capabilities is a normalized set of agent or task capability tags.
// JSON input accepts either an array of strings or a single comma-delimited
// string; anything else is INVALID_CAPABILITIES.
type Capabilities []string

// UnmarshalJSON accepts ["go","sql"] or "go, sql".
func (c *Capabilities) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*c = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return NewError(ErrInvalidCapabilities, "capabilities array must contain only strings")
		}
		*c = NormalizeCapabilities(list)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return NewError(ErrInvalidCapabilities, "capabilities must be a string list or comma-delimited string")
	}
	*c = ParseCapabilityString(s)
	return nil
}

// ParseCapabilityString splits a comma-delimited capability string,
// trimming whitespace and dropping empties.
func ParseCapabilityString(s string) Capabilities {
	parts := strings.Split(s, ",")
	return NormalizeCapabilities(parts)
}

// NormalizeCapabilities trims, lowercases, dedupes, and sorts tags.
func NormalizeCapabilities(in []string) Capabilities {
	seen := make(map[string]bool, len(in))
	out := make(Capabilities, 0, len(in))
	for _, tag := range in {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Covers reports whether c satisfies every tag in required. An empty
// required set is satisfied by any agent.
func (c Capabilities) Covers(required Capabilities) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(c))
	for _, tag := range c {
		have[tag] = true
	}
	for _, tag := range required {
		if !have[tag] {
			return false
		}
	}
	return true
}

// Value returns the JSON array encoding used for storage, or empty string
// for a nil set.
func (c Capabilities) Value() (string, error) {
	if len(c) == 0 {
		return "", nil
	}
	b, err := json.Marshal([]string(c))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CapabilitiesFromStored decodes the storage encoding produced by Value.
func CapabilitiesFromStored(s string) (Capabilities, error) {
	if s == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, err
	}
	return NormalizeCapabilities(list), nil
}
