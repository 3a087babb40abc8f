// Package auth provides authentication primitives for the platform, including app secret
// generation/validation, developer JWT creation/verification, and scoped end-user tokens.
// Two credential classes are supported: app secrets (long-lived, bcrypt-hashed, used for
// management and provisioning calls) and scoped tokens (short-lived JWTs bound to one
// app/end-user pair, signed with the app's own signing secret).
// See internal/middleware/auth.go for the request-time authentication logic that uses these primitives.
package auth

import (
	"fmt"
	"strings"
)

// Capability represents a named permission an app or sub-chat may hold
type Capability string

const (
	// CapabilityAsk allows submitting questions to the knowledge chat
	CapabilityAsk Capability = "ask"

	// CapabilityUpload allows uploading files into an end-user's sub-chat
	CapabilityUpload Capability = "upload"

	// CapabilityExportSummaries allows exporting AI-generated summaries
	CapabilityExportSummaries Capability = "export_summaries"
)

// forbiddenCapabilities are raw-file-access permissions that are permanently
// excluded from the enum. They can never be granted to any app, regardless of
// input, because they would let a developer read end-user uploaded content.
var forbiddenCapabilities = map[string]bool{
	"list_files":    true,
	"download_file": true,
}

// AllCapabilities returns every valid capability
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityAsk,
		CapabilityUpload,
		CapabilityExportSummaries,
	}
}

// ValidCapabilities returns a map of valid capability strings
func ValidCapabilities() map[string]bool {
	valid := make(map[string]bool)
	for _, c := range AllCapabilities() {
		valid[string(c)] = true
	}
	return valid
}

// ValidateCapabilities checks that all provided capabilities are members of the
// closed enum. Forbidden raw-file capabilities get a specific error message so
// callers can tell a policy violation from a typo. All offending values are
// listed, not just the first.
func ValidateCapabilities(capabilities []string) error {
	valid := ValidCapabilities()

	var forbidden, invalid []string
	for _, c := range capabilities {
		switch {
		case forbiddenCapabilities[c]:
			forbidden = append(forbidden, c)
		case !valid[c]:
			invalid = append(invalid, c)
		}
	}

	if len(forbidden) > 0 {
		return fmt.Errorf("raw-file capabilities are never grantable: %s", strings.Join(forbidden, ", "))
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid capabilities: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// HasCapability checks if a capability set contains the required capability
func HasCapability(capabilities []string, required Capability) bool {
	requiredStr := string(required)
	for _, c := range capabilities {
		if c == requiredStr {
			return true
		}
	}
	return false
}

// IntersectCapabilities returns the capabilities present in both sets,
// preserving the order of the first set. The effective permission set for a
// sub-chat call is always app.allowed ∩ subchat.granted.
func IntersectCapabilities(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, c := range b {
		inB[c] = true
	}
	result := make([]string, 0, len(a))
	for _, c := range a {
		if inB[c] {
			result = append(result, c)
		}
	}
	return result
}

// GetDefaultCapabilities returns the default capability set for a new app
func GetDefaultCapabilities() []string {
	return []string{
		string(CapabilityAsk),
		string(CapabilityUpload),
	}
}
