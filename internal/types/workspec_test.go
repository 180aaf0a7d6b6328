package types

import (
	"strings"
	"testing"
)

func TestParseWorkSpec(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"minimal", `{"goal":"implement the parser"}`, false},
		{"full", `{"goal":"g","acceptance_criteria":["a"],"exclusive_paths":["internal/parser/"],"shared_paths":["go.mod"],"verification_cmds":["go test ./..."],"notes":"n"}`, false},
		{"extension fields preserved", `{"goal":"g","x_custom":{"k":1}}`, false},
		{"empty goal", `{"goal":""}`, true},
		{"whitespace goal", `{"goal":"   "}`, true},
		{"missing goal", `{"notes":"n"}`, true},
		{"empty body", ``, true},
		{"not an object", `"goal"`, true},
		{"malformed", `{"goal":`, true},
		{"empty exclusive path", `{"goal":"g","exclusive_paths":[""]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, err := ParseWorkSpec([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseWorkSpec succeeded, want error")
				}
				if !IsCode(err, ErrInvalidWorkSpec) {
					t.Errorf("error code = %v, want INVALID_WORK_SPEC", CodeOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWorkSpec failed: %v", err)
			}
			if ws.Goal == "" {
				t.Error("parsed spec has empty goal")
			}
		})
	}
}

func TestCanonicalHash(t *testing.T) {
	a := []byte(`{"goal":"g","notes":"n"}`)
	b := []byte(`{"notes":"n", "goal":"g"}`) // key order and whitespace differ
	ha, err := CanonicalHash(a)
	if err != nil {
		t.Fatalf("CanonicalHash failed: %v", err)
	}
	hb, err := CanonicalHash(b)
	if err != nil {
		t.Fatalf("CanonicalHash failed: %v", err)
	}
	if ha != hb {
		t.Errorf("hashes differ for equivalent specs: %s vs %s", ha, hb)
	}
	if len(ha) != 64 || strings.ToLower(ha) != ha {
		t.Errorf("hash %q is not lowercase hex sha256", ha)
	}

	c := []byte(`{"goal":"different"}`)
	hc, err := CanonicalHash(c)
	if err != nil {
		t.Fatalf("CanonicalHash failed: %v", err)
	}
	if hc == ha {
		t.Error("different specs hashed identically")
	}
}

func TestWorkSpecMaterialEqual(t *testing.T) {
	base := `{"goal":"g","acceptance_criteria":["a"],"exclusive_paths":["p/"],"notes":"n"}`
	tests := []struct {
		name  string
		other string
		equal bool
	}{
		{"identical", base, true},
		{"notes changed", `{"goal":"g","acceptance_criteria":["a"],"exclusive_paths":["p/"],"notes":"different"}`, true},
		{"extension changed", `{"goal":"g","acceptance_criteria":["a"],"exclusive_paths":["p/"],"notes":"n","x_extra":1}`, true},
		{"goal changed", `{"goal":"other","acceptance_criteria":["a"],"exclusive_paths":["p/"],"notes":"n"}`, false},
		{"criteria changed", `{"goal":"g","acceptance_criteria":["a","b"],"exclusive_paths":["p/"],"notes":"n"}`, false},
		{"exclusive path changed", `{"goal":"g","acceptance_criteria":["a"],"exclusive_paths":["q/"],"notes":"n"}`, false},
		{"shared path added", `{"goal":"g","acceptance_criteria":["a"],"exclusive_paths":["p/"],"shared_paths":["s"],"notes":"n"}`, false},
		{"verification added", `{"goal":"g","acceptance_criteria":["a"],"exclusive_paths":["p/"],"verification_cmds":["make test"],"notes":"n"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WorkSpecMaterialEqual([]byte(base), []byte(tt.other))
			if err != nil {
				t.Fatalf("WorkSpecMaterialEqual failed: %v", err)
			}
			if got != tt.equal {
				t.Errorf("WorkSpecMaterialEqual = %v, want %v", got, tt.equal)
			}
		})
	}
}
