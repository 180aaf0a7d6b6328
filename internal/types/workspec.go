package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// WorkSpec is the structured contract a task executes against. Planners may
// attach extension fields beyond these; the kernel stores the submitted JSON
// verbatim and only interprets the fields below.
type WorkSpec struct {
	Goal               string   `json:"goal"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	ExclusivePaths     []string `json:"exclusive_paths,omitempty"`
	SharedPaths        []string `json:"shared_paths,omitempty"`
	VerificationCmds   []string `json:"verification_cmds,omitempty"`
	Notes              string   `json:"notes,omitempty"`
}

// ParseWorkSpec decodes and validates a raw work spec. The raw bytes must be
// a JSON object with a non-empty goal; unknown fields are permitted and
// preserved by storing raw verbatim.
func ParseWorkSpec(raw []byte) (*WorkSpec, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, NewError(ErrInvalidWorkSpec, "work spec is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	var ws WorkSpec
	if err := dec.Decode(&ws); err != nil {
		return nil, NewError(ErrInvalidWorkSpec, "work spec is not a JSON object: %v", err)
	}
	if err := ws.Validate(); err != nil {
		return nil, err
	}
	return &ws, nil
}

// Validate checks the interpreted fields of the spec.
func (w *WorkSpec) Validate() error {
	if strings.TrimSpace(w.Goal) == "" {
		return NewError(ErrInvalidWorkSpec, "work spec goal must be non-empty")
	}
	for _, p := range w.ExclusivePaths {
		if strings.TrimSpace(p) == "" {
			return NewError(ErrInvalidWorkSpec, "exclusive_paths entries must be non-empty")
		}
	}
	for _, p := range w.SharedPaths {
		if strings.TrimSpace(p) == "" {
			return NewError(ErrInvalidWorkSpec, "shared_paths entries must be non-empty")
		}
	}
	return nil
}

// CanonicalHash computes the SHA-256 of the canonical JSON form of raw:
// decoded to generic values and re-encoded, which sorts all object keys.
// Two specs that differ only in key order or whitespace hash identically.
func CanonicalHash(raw []byte) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("failed to canonicalize work spec: %w", err)
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize work spec: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// materialSpec is the projection of a work spec onto its material fields.
// Changing any of these invalidates idle claims during a replan.
type materialSpec struct {
	Goal               string   `json:"goal"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	ExclusivePaths     []string `json:"exclusive_paths"`
	SharedPaths        []string `json:"shared_paths"`
	VerificationCmds   []string `json:"verification_cmds"`
}

func materialOf(raw []byte) (materialSpec, error) {
	var m materialSpec
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("failed to decode work spec: %w", err)
	}
	return m, nil
}

// WorkSpecMaterialEqual reports whether two raw work specs agree on every
// material field. Notes and extension fields are non-material.
func WorkSpecMaterialEqual(a, b []byte) (bool, error) {
	ma, err := materialOf(a)
	if err != nil {
		return false, err
	}
	mb, err := materialOf(b)
	if err != nil {
		return false, err
	}
	ja, err := json.Marshal(ma)
	if err != nil {
		return false, err
	}
	jb, err := json.Marshal(mb)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ja, jb), nil
}
