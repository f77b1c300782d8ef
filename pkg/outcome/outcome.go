// Package outcome records per-target results of a reconciliation and
// assembles them into the invocation result.
package outcome

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is a mutation kind.
type Kind string

const (
	KindAdd               Kind = "add"
	KindRole              Kind = "role"
	KindCredential        Kind = "credential"
	KindMgmtIP            Kind = "mgmt_ip"
	KindInterface         Kind = "interface"
	KindUDF               Kind = "udf"
	KindUDFAssign         Kind = "udf_assign"
	KindProvision         Kind = "provision"
	KindResync            Kind = "resync"
	KindReboot            Kind = "reboot"
	KindExport            Kind = "export"
	KindMaintenance       Kind = "maintenance"
	KindMaintenanceUpdate Kind = "maintenance_update"
	KindDelete            Kind = "delete"
	KindUDFDelete         Kind = "udf_delete"
	KindMaintenanceDelete Kind = "maintenance_delete"
)

// MergeOrder is the order kinds run in under the merged intent.
var MergeOrder = []Kind{
	KindAdd, KindRole, KindCredential, KindMgmtIP, KindInterface,
	KindUDF, KindUDFAssign, KindProvision, KindResync, KindReboot,
	KindExport, KindMaintenance, KindMaintenanceUpdate,
}

// DeleteOrder lists the deleted-intent kinds.
var DeleteOrder = []Kind{KindUDFDelete, KindDelete, KindMaintenanceDelete}

// Order is every kind in reporting order.
var Order = append(append([]Kind{}, MergeOrder...), DeleteOrder...)

// Imperative kinds act on every run; a repeat is not a sign of drift.
func (k Kind) Imperative() bool {
	switch k {
	case KindResync, KindReboot, KindExport:
		return true
	}
	return false
}

// Verdict is the result of one (kind, target).
type Verdict string

const (
	Applied Verdict = "applied"
	Noop    Verdict = "noop"
	Failed  Verdict = "failed"
)

var verdictRank = map[Verdict]int{Noop: 0, Applied: 1, Failed: 2}

// Entry is one outcome.
type Entry struct {
	Kind    Kind    `json:"kind"`
	Target  string  `json:"target"`
	Verdict Verdict `json:"verdict"`
	Detail  string  `json:"detail,omitempty"`
}

// Warning is an advisory note. Warnings never fail an invocation.
type Warning struct {
	Kind    Kind   `json:"kind"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message"`
}

type key struct {
	kind   Kind
	target string
}

// Log is the append-only outcome log of one invocation. A (kind, target)
// keeps a single verdict; failed overrides applied, which overrides noop.
type Log struct {
	entries  []Entry
	index    map[key]int
	warnings []Warning
	verify   []Entry
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{index: make(map[key]int)}
}

// Record adds an entry.
func (l *Log) Record(e Entry) {
	k := key{e.Kind, e.Target}
	if i, ok := l.index[k]; ok {
		if verdictRank[e.Verdict] >= verdictRank[l.entries[i].Verdict] {
			l.entries[i] = e
		}
		return
	}
	l.index[k] = len(l.entries)
	l.entries = append(l.entries, e)
}

// Applied records a successful mutation.
func (l *Log) Applied(kind Kind, target, detail string) {
	l.Record(Entry{Kind: kind, Target: target, Verdict: Applied, Detail: detail})
}

// Noop records a target that needed no mutation.
func (l *Log) Noop(kind Kind, target, detail string) {
	l.Record(Entry{Kind: kind, Target: target, Verdict: Noop, Detail: detail})
}

// Fail records a failed target.
func (l *Log) Fail(kind Kind, target string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	l.Record(Entry{Kind: kind, Target: target, Verdict: Failed, Detail: detail})
}

// FailAll records the same failure for every target.
func (l *Log) FailAll(kind Kind, targets []string, err error) {
	for _, t := range targets {
		l.Fail(kind, t, err)
	}
}

// Warn records a warning. Repeats of an identical warning are dropped.
func (l *Log) Warn(kind Kind, target, message string) {
	w := Warning{Kind: kind, Target: target, Message: message}
	for _, have := range l.warnings {
		if have == w {
			return
		}
	}
	l.warnings = append(l.warnings, w)
}

// VerifyFailed records that a previously applied target has not converged.
func (l *Log) VerifyFailed(kind Kind, target, detail string) {
	l.verify = append(l.verify, Entry{Kind: kind, Target: target, Verdict: Failed, Detail: detail})
}

// Entries returns the entries in recording order.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Warnings returns the recorded warnings.
func (l *Log) Warnings() []Warning {
	return l.warnings
}

// VerifyFailures returns the verification failures.
func (l *Log) VerifyFailures() []Entry {
	return l.verify
}

// Targets returns the targets of kind with verdict v, in recording order.
func (l *Log) Targets(kind Kind, v Verdict) []string {
	var out []string
	for _, e := range l.entries {
		if e.Kind == kind && e.Verdict == v {
			out = append(out, e.Target)
		}
	}
	return out
}

// Verdict returns the verdict of (kind, target).
func (l *Log) Verdict(kind Kind, target string) (Verdict, bool) {
	i, ok := l.index[key{kind, target}]
	if !ok {
		return "", false
	}
	return l.entries[i].Verdict, true
}

// Changed reports whether any entry was applied.
func (l *Log) Changed() bool {
	for _, e := range l.entries {
		if e.Verdict == Applied {
			return true
		}
	}
	return false
}

// HasFailures reports whether any entry failed.
func (l *Log) HasFailures() bool {
	for _, e := range l.entries {
		if e.Verdict == Failed {
			return true
		}
	}
	return false
}

// Counts tallies entries by verdict.
func (l *Log) Counts() map[Verdict]int {
	out := map[Verdict]int{}
	for _, e := range l.entries {
		out[e.Verdict]++
	}
	return out
}

// phrase is the reporting text of one (kind, verdict) set.
type phrase struct {
	key      string
	sentence string
}

var phrases = map[Kind]map[Verdict]phrase{
	KindAdd: {
		Applied: {"devices_added", "Device(s) '%s' added to Catalyst Center."},
		Noop:    {"devices_already_present", "Device(s) '%s' already present in Catalyst Center."},
		Failed:  {"devices_not_added", "Device(s) '%s' could not be added."},
	},
	KindRole: {
		Applied: {"role_updated", "Role updated for device(s) '%s'."},
		Noop:    {"role_unchanged", "Role already as declared for device(s) '%s'."},
		Failed:  {"role_update_failed", "Role update failed for device(s) '%s'."},
	},
	KindCredential: {
		Applied: {"credentials_updated", "Credentials updated for device(s) '%s'."},
		Noop:    {"credentials_unchanged", "Credentials already as declared for device(s) '%s'."},
		Failed:  {"credentials_update_failed", "Credential update failed for device(s) '%s'."},
	},
	KindMgmtIP: {
		Applied: {"mgmt_ip_updated", "Management IP updated for device(s) '%s'."},
		Noop:    {"mgmt_ip_unchanged", "Management IP already as declared for device(s) '%s'."},
		Failed:  {"mgmt_ip_update_failed", "Management IP update failed for device(s) '%s'."},
	},
	KindInterface: {
		Applied: {"interfaces_updated", "Interface(s) '%s' updated."},
		Noop:    {"interfaces_unchanged", "Interface(s) '%s' already as declared."},
		Failed:  {"interface_update_failed", "Interface update failed for '%s'."},
	},
	KindUDF: {
		Applied: {"udf_created", "User-defined field(s) '%s' created."},
		Noop:    {"udf_present", "User-defined field(s) '%s' already present."},
		Failed:  {"udf_create_failed", "User-defined field(s) '%s' could not be created."},
	},
	KindUDFAssign: {
		Applied: {"udf_assigned", "User-defined fields assigned to device(s) '%s'."},
		Noop:    {"udf_assign_unchanged", "User-defined fields already assigned to device(s) '%s'."},
		Failed:  {"udf_assign_failed", "User-defined field assignment failed for device(s) '%s'."},
	},
	KindProvision: {
		Applied: {"devices_provisioned", "Device(s) '%s' provisioned."},
		Noop:    {"devices_already_provisioned", "Device(s) '%s' already provisioned."},
		Failed:  {"provision_failed", "Provisioning failed for device(s) '%s'."},
	},
	KindResync: {
		Applied: {"devices_resynced", "Device(s) '%s' resynced."},
		Noop:    {"resync_skipped", "Resync not needed for device(s) '%s'."},
		Failed:  {"resync_failed", "Resync failed for device(s) '%s'."},
	},
	KindReboot: {
		Applied: {"aps_rebooted", "Access point(s) '%s' rebooted."},
		Noop:    {"reboot_skipped", "Reboot not needed for device(s) '%s'."},
		Failed:  {"reboot_failed", "Reboot failed for device(s) '%s'."},
	},
	KindExport: {
		Applied: {"devices_exported", "Device(s) '%s' exported."},
		Noop:    {"export_skipped", "Nothing to export for device(s) '%s'."},
		Failed:  {"export_failed", "Export failed for device(s) '%s'."},
	},
	KindMaintenance: {
		Applied: {"maintenance_scheduled", "Maintenance scheduled for device(s) '%s'."},
		Noop:    {"maintenance_unchanged", "Maintenance schedule already as declared for device(s) '%s'."},
		Failed:  {"maintenance_schedule_failed", "Maintenance scheduling failed for device(s) '%s'."},
	},
	KindMaintenanceUpdate: {
		Applied: {"maintenance_updated", "Maintenance schedule updated for device(s) '%s'."},
		Noop:    {"maintenance_unchanged", "Maintenance schedule already as declared for device(s) '%s'."},
		Failed:  {"maintenance_update_failed", "Maintenance update failed for device(s) '%s'."},
	},
	KindDelete: {
		Applied: {"devices_deleted", "Device(s) '%s' deleted from Catalyst Center."},
		Noop:    {"no_device_to_delete", "Device(s) '%s' not present; nothing to delete."},
		Failed:  {"devices_not_deleted", "Device(s) '%s' could not be deleted."},
	},
	KindUDFDelete: {
		Applied: {"udf_deleted", "User-defined field(s) '%s' deleted."},
		Noop:    {"udf_not_present", "User-defined field(s) '%s' not present; nothing to delete."},
		Failed:  {"udf_delete_failed", "User-defined field deletion failed for '%s'."},
	},
	KindMaintenanceDelete: {
		Applied: {"maintenance_deleted", "Maintenance schedule(s) deleted for device(s) '%s'."},
		Noop:    {"no_maintenance_to_delete", "No maintenance schedule to delete for device(s) '%s'."},
		Failed:  {"maintenance_delete_failed", "Maintenance deletion failed for device(s) '%s'."},
	},
}

var verdicts = []Verdict{Applied, Noop, Failed}

// ResponseKey returns the result key of the (kind, verdict) set.
func ResponseKey(kind Kind, v Verdict) string {
	if p, ok := phrases[kind][v]; ok {
		return p.key
	}
	return fmt.Sprintf("%s_%s", kind, v)
}

// Message assembles one sentence per non-empty (kind, verdict) set, kinds
// in reporting order.
func (l *Log) Message() string {
	var parts []string
	for _, kind := range Order {
		for _, v := range verdicts {
			targets := l.Targets(kind, v)
			if len(targets) == 0 {
				continue
			}
			p, ok := phrases[kind][v]
			if !ok {
				continue
			}
			parts = append(parts, fmt.Sprintf(p.sentence, strings.Join(targets, ", ")))
		}
	}
	if len(l.verify) > 0 {
		var failed []string
		for _, e := range l.verify {
			failed = append(failed, fmt.Sprintf("%s %s", e.Kind, e.Target))
		}
		parts = append(parts, fmt.Sprintf("Verification did not converge for: %s.", strings.Join(failed, ", ")))
	}
	if len(parts) == 0 {
		return "No changes required."
	}
	return strings.Join(parts, " ")
}

// Response maps each non-empty set's key to its targets. Failures also
// carry their reasons under "errors".
func (l *Log) Response() map[string]any {
	out := make(map[string]any)
	errs := make(map[string]string)
	for _, e := range l.entries {
		k := ResponseKey(e.Kind, e.Verdict)
		list, _ := out[k].([]string)
		out[k] = append(list, e.Target)
		if e.Verdict == Failed && e.Detail != "" {
			errs[string(e.Kind)+" "+e.Target] = e.Detail
		}
	}
	if len(errs) > 0 {
		out["errors"] = errs
	}
	if len(l.warnings) > 0 {
		msgs := make([]string, 0, len(l.warnings))
		for _, w := range l.warnings {
			if w.Target != "" {
				msgs = append(msgs, fmt.Sprintf("%s: %s", w.Target, w.Message))
			} else {
				msgs = append(msgs, w.Message)
			}
		}
		out["warnings"] = msgs
	}
	if len(l.verify) > 0 {
		v := make(map[string][]string)
		for _, e := range l.verify {
			v[string(e.Kind)] = append(v[string(e.Kind)], e.Target)
		}
		for k := range v {
			sort.Strings(v[k])
		}
		out["verification_failed"] = v
	}
	return out
}

// Result is the invocation-level record.
type Result struct {
	Changed  bool           `json:"changed"`
	Failed   bool           `json:"failed"`
	Msg      string         `json:"msg"`
	Response map[string]any `json:"response"`
}

// Result derives the invocation verdict. Verification failures are
// advisory and do not set Failed.
func (l *Log) Result() Result {
	return Result{
		Changed:  l.Changed(),
		Failed:   l.HasFailures(),
		Msg:      l.Message(),
		Response: l.Response(),
	}
}
