package reconcile

import (
	"context"
	"fmt"

	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/outcome"
	"github.com/ccinv/ccinv/pkg/plan"
	"github.com/ccinv/ccinv/pkg/util"
)

// verify re-observes every entry and plans it again. A change that is still
// pending for a target applied earlier in this invocation means the
// controller did not converge. Verification failures are advisory, and so
// is a failed re-observation: the entry is reported as unverified and the
// rest are still checked. It reports whether every entry was verified.
func (r *Reconciler) verify(ctx context.Context, doc *intent.Document, log *outcome.Log) bool {
	complete := true
	for i := range doc.Config {
		d := &doc.Config[i]
		state, err := r.observer.Snapshot(ctx, doc.State, d)
		if err != nil {
			util.WithField("entry", i).Warnf("Verification skipped: %v", err)
			log.Warn("", "", fmt.Sprintf("entry %d not verified: %v", i, err))
			complete = false
			continue
		}
		p := plan.Build(plan.Input{
			Intent:        doc.State,
			Declared:      d,
			State:         state,
			DeferWireless: doc.DeferWireless(),
		})
		Check(p, log)
	}
	return complete
}

// Check records a verification failure for each pending change of p whose
// (kind, target) was applied in log. Imperative changes repeat by nature
// and are skipped.
func Check(p *plan.Plan, log *outcome.Log) int {
	failed := 0
	for _, c := range p.Changes {
		if c.Imperative || c.Kind.Imperative() {
			continue
		}
		if v, ok := log.Verdict(c.Kind, c.Target); !ok || v != outcome.Applied {
			continue
		}
		detail := "still differs"
		if len(c.NewValue) > 0 {
			detail = fmt.Sprintf("still differs: %v", c.NewValue)
		}
		util.WithKind(string(c.Kind)).WithField("device", c.Target).Warnf("Not converged: %s", detail)
		log.VerifyFailed(c.Kind, c.Target, detail)
		failed++
	}
	return failed
}
