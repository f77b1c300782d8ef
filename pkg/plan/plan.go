// Package plan computes the changes that bring observed controller state to
// the declared state.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ccinv/ccinv/pkg/catalyst"
	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/outcome"
)

// Action is what a change does to its target.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionRun is an imperative operation with no observable end state.
	ActionRun Action = "run"
)

// InterfaceChange is the interface part of a change.
type InterfaceChange struct {
	ID     string
	Name   string
	Update *intent.InterfaceUpdate
	// Attributes is set when description, status or VLANs differ.
	Attributes bool
	ClearMAC   bool
}

// MaintenanceChange is the maintenance part of a change.
type MaintenanceChange struct {
	// Request indexes the entry's maintenance requests; creates for the
	// same request are submitted together.
	Request  int
	Spec     *intent.MaintenanceRequest
	Window   intent.Window
	Existing *catalyst.MaintenanceSchedule
	// Recreate is set when the recurrence type changes.
	Recreate bool
}

// Change is one pending mutation of one target.
type Change struct {
	Kind     outcome.Kind      `json:"kind"`
	Target   string            `json:"target"`
	Action   Action            `json:"action"`
	OldValue map[string]string `json:"old_value,omitempty"`
	NewValue map[string]string `json:"new_value,omitempty"`

	DeviceID string `json:"-"`
	// Imperative marks a change that repeats on every run.
	Imperative bool `json:"-"`

	Credentials *intent.Credentials           `json:"-"`
	MgmtIP      *intent.MgmtIPUpdate          `json:"-"`
	Interface   *InterfaceChange              `json:"-"`
	UDFs        []intent.UserDefinedField     `json:"-"`
	UDFID       string                        `json:"-"`
	Provision   *intent.ProvisionRequest      `json:"-"`
	Provisioned bool                          `json:"-"`
	Maintenance *MaintenanceChange            `json:"-"`
	Schedule    *catalyst.MaintenanceSchedule `json:"-"`
}

// Plan is the set of changes, no-ops and failures the differ found for
// one entry.
type Plan struct {
	Intent   intent.Intent     `json:"intent"`
	Changes  []Change          `json:"changes"`
	Noops    []outcome.Entry   `json:"noops,omitempty"`
	Failures []outcome.Entry   `json:"failures,omitempty"`
	Warnings []outcome.Warning `json:"warnings,omitempty"`
}

// For returns the changes of kind in plan order.
func (p *Plan) For(kind outcome.Kind) []Change {
	var out []Change
	for _, c := range p.Changes {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// IsEmpty reports whether the plan holds no changes.
func (p *Plan) IsEmpty() bool {
	return len(p.Changes) == 0
}

// Has reports whether kind has a pending change for target.
func (p *Plan) Has(kind outcome.Kind, target string) bool {
	for _, c := range p.Changes {
		if c.Kind == kind && c.Target == target {
			return true
		}
	}
	return false
}

// Record copies the plan's no-ops, failures and warnings for kinds into
// log. Changes are left to the mutators.
func (p *Plan) Record(log *outcome.Log, kinds ...outcome.Kind) {
	want := make(map[outcome.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	for _, e := range p.Noops {
		if want[e.Kind] {
			log.Record(e)
		}
	}
	for _, e := range p.Failures {
		if want[e.Kind] {
			log.Record(e)
		}
	}
	for _, w := range p.Warnings {
		if want[w.Kind] || w.Kind == "" {
			log.Warn(w.Kind, w.Target, w.Message)
		}
	}
}

// String returns a human-readable list of the changes.
func (p *Plan) String() string {
	if p.IsEmpty() {
		return "No changes"
	}

	var sb strings.Builder
	for _, c := range p.Changes {
		sb.WriteString(fmt.Sprintf("  [%s] %s %s", strings.ToUpper(string(c.Action)), c.Kind, c.Target))
		if len(c.NewValue) > 0 {
			sb.WriteString(" → " + formatValues(c.OldValue, c.NewValue))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Preview returns the plan with its no-ops and failures.
func (p *Plan) Preview() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Intent: %s\n", p.Intent))
	sb.WriteString(fmt.Sprintf("Changes:\n%s", p.String()))
	for _, e := range p.Failures {
		sb.WriteString(fmt.Sprintf("  [FAIL] %s %s: %s\n", e.Kind, e.Target, e.Detail))
	}
	for _, e := range p.Noops {
		sb.WriteString(fmt.Sprintf("  [OK] %s %s\n", e.Kind, e.Target))
	}
	for _, w := range p.Warnings {
		sb.WriteString(fmt.Sprintf("  [WARN] %s %s\n", w.Target, w.Message))
	}
	return sb.String()
}

func formatValues(before, after map[string]string) string {
	keys := make([]string, 0, len(after))
	for k := range after {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if o, ok := before[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s (was %s)", k, after[k], o))
		} else {
			parts = append(parts, fmt.Sprintf("%s=%s", k, after[k]))
		}
	}
	return strings.Join(parts, ", ")
}
