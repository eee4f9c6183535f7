package healthcheck

import (
	"fmt"

	"github.com/buttonworks/rollguard/internal/telemetry"
)

// ButtonSpec is the synthetic button representation the smoke tests build
// and validate. It mirrors the fields the unified button components require.
type ButtonSpec struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	ActionType string `json:"action_type"`
	Variant    string `json:"variant"`
	Disabled   bool   `json:"disabled"`
}

// knownActionTypes are the action types the unified routing table handles.
var knownActionTypes = map[string]bool{
	"navigate": true,
	"save":     true,
	"delete":   true,
	"share":    true,
	"submit":   true,
	"custom":   true,
}

// knownVariants are the supported visual variants. Empty means default.
var knownVariants = map[string]bool{
	"":          true,
	"primary":   true,
	"secondary": true,
	"danger":    true,
	"ghost":     true,
}

// ValidateButton checks that a button definition is well-formed. The result
// feeds the metrics store's validation log, where invalid outcomes count as
// error-equivalent events.
func ValidateButton(b ButtonSpec) telemetry.ValidationResult {
	var problems []string

	if b.ID == "" {
		problems = append(problems, "button id is required")
	}
	if b.Label == "" {
		problems = append(problems, "button label is required")
	}
	if b.ActionType == "" {
		problems = append(problems, "action type is required")
	} else if !knownActionTypes[b.ActionType] {
		problems = append(problems, fmt.Sprintf("unknown action type %q", b.ActionType))
	}
	if !knownVariants[b.Variant] {
		problems = append(problems, fmt.Sprintf("unknown variant %q", b.Variant))
	}

	return telemetry.ValidationResult{
		IsValid: len(problems) == 0,
		Errors:  problems,
	}
}

// actionDescriptor is one entry of the synthetic action routing table the
// action-routing smoke test checks.
type actionDescriptor struct {
	ID     string
	Kind   string
	Target string
	Label  string
}

// routingTable is a representative sample of the unified action routes.
var routingTable = []actionDescriptor{
	{ID: "act-navigate-home", Kind: "navigate", Target: "/", Label: "Home"},
	{ID: "act-save-progress", Kind: "save", Target: "progress", Label: "Save progress"},
	{ID: "act-delete-memory", Kind: "delete", Target: "memory", Label: "Delete memory"},
	{ID: "act-share-gallery", Kind: "share", Target: "gallery", Label: "Share gallery"},
	{ID: "act-submit-form", Kind: "submit", Target: "form", Label: "Submit"},
}
