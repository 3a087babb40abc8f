package auth

import (
	"reflect"
	"strings"
	"testing"
)

func TestValidateCapabilities(t *testing.T) {
	t.Run("all valid capabilities pass", func(t *testing.T) {
		err := ValidateCapabilities([]string{"ask", "upload", "export_summaries"})
		if err != nil {
			t.Errorf("ValidateCapabilities() unexpected error: %v", err)
		}
	})

	t.Run("empty set passes", func(t *testing.T) {
		if err := ValidateCapabilities(nil); err != nil {
			t.Errorf("ValidateCapabilities(nil) unexpected error: %v", err)
		}
	})

	t.Run("unknown capability is rejected", func(t *testing.T) {
		err := ValidateCapabilities([]string{"ask", "teleport"})
		if err == nil {
			t.Fatal("ValidateCapabilities() expected error for unknown capability, got nil")
		}
		if !strings.Contains(err.Error(), "teleport") {
			t.Errorf("error %q does not name the offending capability", err.Error())
		}
	})

	t.Run("all offending values are listed", func(t *testing.T) {
		err := ValidateCapabilities([]string{"foo", "bar"})
		if err == nil {
			t.Fatal("ValidateCapabilities() expected error, got nil")
		}
		if !strings.Contains(err.Error(), "foo") || !strings.Contains(err.Error(), "bar") {
			t.Errorf("error %q should list every offending capability", err.Error())
		}
	})

	t.Run("raw-file capabilities are permanently forbidden", func(t *testing.T) {
		for _, forbidden := range []string{"list_files", "download_file"} {
			err := ValidateCapabilities([]string{"ask", forbidden})
			if err == nil {
				t.Fatalf("ValidateCapabilities() accepted forbidden capability %q", forbidden)
			}
			if !strings.Contains(err.Error(), "never grantable") {
				t.Errorf("error %q should identify %q as a policy violation, not a typo", err.Error(), forbidden)
			}
		}
	})
}

func TestHasCapability(t *testing.T) {
	capabilities := []string{"ask", "upload"}

	if !HasCapability(capabilities, CapabilityAsk) {
		t.Error("HasCapability() = false for granted capability")
	}
	if HasCapability(capabilities, CapabilityExportSummaries) {
		t.Error("HasCapability() = true for ungranted capability")
	}
	if HasCapability(nil, CapabilityAsk) {
		t.Error("HasCapability() = true for empty set")
	}
}

func TestIntersectCapabilities(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want []string
	}{
		{"overlap", []string{"ask", "upload", "export_summaries"}, []string{"upload", "ask"}, []string{"ask", "upload"}},
		{"disjoint", []string{"ask"}, []string{"upload"}, []string{}},
		{"empty first", nil, []string{"ask"}, []string{}},
		{"empty second", []string{"ask"}, nil, []string{}},
		{"identical", []string{"ask", "upload"}, []string{"ask", "upload"}, []string{"ask", "upload"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IntersectCapabilities(tt.a, tt.b)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("IntersectCapabilities(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestAllCapabilitiesExcludesRawFileAccess(t *testing.T) {
	for _, c := range AllCapabilities() {
		if forbiddenCapabilities[string(c)] {
			t.Errorf("AllCapabilities() contains forbidden capability %q", c)
		}
	}
}

func TestGetDefaultCapabilities(t *testing.T) {
	defaults := GetDefaultCapabilities()
	if err := ValidateCapabilities(defaults); err != nil {
		t.Errorf("default capabilities failed validation: %v", err)
	}
	if !HasCapability(defaults, CapabilityAsk) {
		t.Error("default capabilities should include ask")
	}
}
