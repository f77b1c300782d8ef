package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccinv/ccinv/pkg/audit"
	"github.com/ccinv/ccinv/pkg/cli"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View audit logs",
	Long: `View the audit trail of reconciliation runs.

Every plan and apply is logged with:
  - Timestamp and user
  - Controller and intent
  - Resolved targets
  - Verdict counts and outcome

Examples:
  ccinv audit list --target 10.0.0.1
  ccinv audit list --last 24h --changed
  ccinv audit list --user alice --failures`,
}

var (
	auditTarget   string
	auditUser     string
	auditIntent   string
	auditLast     string
	auditLimit    int
	auditFailures bool
	auditChanged  bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := audit.Filter{
			Target:      auditTarget,
			User:        auditUser,
			Intent:      auditIntent,
			Limit:       auditLimit,
			FailedOnly:  auditFailures,
			ChangedOnly: auditChanged,
		}

		if auditLast != "" {
			duration, err := parseLast(auditLast)
			if err != nil {
				return err
			}
			filter.StartTime = time.Now().Add(-duration)
		}

		events, err := audit.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(events)
		}

		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		t := cli.NewTable("TIMESTAMP", "USER", "CONTROLLER", "INTENT", "TARGETS", "STATUS")
		for _, event := range events {
			t.Row(
				event.Timestamp.Format("2006-01-02 15:04:05"),
				event.User,
				event.Controller,
				event.Intent,
				summarizeTargets(event.Targets),
				eventStatus(event),
			)
		}
		t.Flush()
		return nil
	},
}

func eventStatus(e *audit.Event) string {
	switch {
	case e.Failed:
		return cli.Red("failed")
	case !e.ExecuteMode:
		return cli.Yellow("dry-run")
	case e.Changed:
		return cli.Green("changed")
	}
	return cli.Dim("ok")
}

func summarizeTargets(targets []string) string {
	switch len(targets) {
	case 0:
		return "-"
	case 1, 2:
		return strings.Join(targets, ",")
	}
	return fmt.Sprintf("%s,%s +%d", targets[0], targets[1], len(targets)-2)
}

// parseLast accepts Go durations plus a day suffix ("7d").
func parseLast(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}
	return d, nil
}

func init() {
	auditListCmd.Flags().StringVar(&auditTarget, "target", "", "Filter by target management IP")
	auditListCmd.Flags().StringVar(&auditUser, "user", "", "Filter by user")
	auditListCmd.Flags().StringVar(&auditIntent, "intent", "", "Filter by intent (merged, deleted)")
	auditListCmd.Flags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g., 24h, 7d)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditListCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed runs")
	auditListCmd.Flags().BoolVar(&auditChanged, "changed", false, "Show only runs that changed something")

	auditCmd.AddCommand(auditListCmd)
}
