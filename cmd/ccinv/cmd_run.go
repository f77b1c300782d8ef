package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccinv/ccinv/pkg/audit"
	"github.com/ccinv/ccinv/pkg/catalyst"
	"github.com/ccinv/ccinv/pkg/cli"
	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/lock"
	"github.com/ccinv/ccinv/pkg/metrics"
	"github.com/ccinv/ccinv/pkg/mutate"
	"github.com/ccinv/ccinv/pkg/observe"
	"github.com/ccinv/ccinv/pkg/reconcile"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/task"
	"github.com/ccinv/ccinv/pkg/util"
)

var errRunFailed = errors.New("reconciliation failed")

var planCmd = &cobra.Command{
	Use:   "plan <document.yml>",
	Short: "Show the changes a document would make",
	Long: `Observe the controller and print the changes needed to converge it on the
document. Nothing is mutated.

Examples:
  ccinv plan inventory.yml
  ccinv plan inventory.yml --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		executeMode = false
		return runDocument(cmd.Context(), args[0])
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply <document.yml>",
	Short: "Converge the controller on a document",
	Long: `Converge the controller on a document.

Without -x the run is a dry run and behaves like 'plan'. With -x every
planned change is executed in a fixed order: add, role, credentials,
management IP, interfaces, user-defined fields, provisioning, resync,
reboot, export and maintenance for merged documents; maintenance
cancellation and device deletion for deleted documents.

Examples:
  ccinv apply inventory.yml -x
  ccinv apply inventory.yml -x --verify-after
  ccinv apply decommission.yml -x --redis-addr localhost:6379`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDocument(cmd.Context(), args[0])
	},
}

// runDocument loads, reconciles, audits and reports one document.
func runDocument(parent context.Context, path string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	start := time.Now()
	doc, err := intent.Load(path)
	if err != nil {
		return err
	}
	if verifyAfter {
		doc.ConfigVerify = true
	}

	cfg, err := connectionConfig(conf, terminalPrompt())
	if err != nil {
		return err
	}

	event := audit.NewEvent(currentUser(), cfg.Host, string(doc.State)).
		WithDocument(path).
		WithExecuteMode(executeMode)

	report, runErr := reconcileDocument(ctx, cfg, doc)
	if report == nil {
		logEvent(event.WithError(runErr).WithDuration(time.Since(start)))
		return runErr
	}
	event.WithTargets(report.Targets).WithLog(report.Log).WithDuration(report.Duration)
	if runErr != nil {
		event.WithError(runErr)
	}
	logEvent(event)

	if metricsFile != "" {
		if err := metrics.WriteTextfile(metricsFile); err != nil {
			util.Warnf("Could not write metrics to %s: %v", metricsFile, err)
		}
	}

	res := report.Result()
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printReport(os.Stdout, report, executeMode)
		printDryRunNotice()
	}

	if runErr != nil {
		return runErr
	}
	if res.Failed {
		return errRunFailed
	}
	return nil
}

// reconcileDocument wires the client stack and runs one document.
func reconcileDocument(ctx context.Context, cfg remote.Config, doc *intent.Document) (*reconcile.Report, error) {
	client := remote.NewHTTPClient(cfg)
	poller := task.NewPoller(client)

	ver, err := controllerRelease(ctx, client, doc)
	if err != nil {
		return nil, err
	}
	util.WithFields(map[string]interface{}{
		"controller": cfg.Host,
		"version":    ver.String(),
	}).Debug("Controller release")

	observer := observe.New(client, poller, ver)
	observer.ArchivePassword = conf.GetString(keyArchivePassword)
	mutator := mutate.New(client, poller, observer)
	mutator.ExportDir = userSettings.GetExportDir()

	r := reconcile.New(observer, mutator)
	r.DryRun = !executeMode

	if addr := conf.GetString(keyRedisAddr); addr != "" && executeMode {
		backend := lock.NewRedis(addr, "", 0)
		defer backend.Close()
		if err := backend.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connecting to lock server %s: %w", addr, err)
		}
		r.SetLocker(lock.New(backend))
	}

	return r.Run(ctx, doc)
}

// controllerRelease picks the release pinned on the command line, then the
// one named in the document, then asks the controller.
func controllerRelease(ctx context.Context, client remote.Client, doc *intent.Document) (catalyst.Version, error) {
	ver, ok, err := pinnedVersion(conf)
	if err != nil {
		return 0, err
	}
	if ok {
		return ver, nil
	}
	if doc.ControllerVersion != "" {
		return catalyst.ParseVersion(doc.ControllerVersion)
	}
	return observe.DetectVersion(ctx, client)
}

func logEvent(e *audit.Event) {
	if err := audit.Log(e); err != nil {
		util.Warnf("Could not write audit event: %v", err)
	}
}

// printReport renders the plans (dry run) or the per-target verdicts.
func printReport(w io.Writer, report *reconcile.Report, executed bool) {
	if !executed {
		for i, p := range report.Plans {
			fmt.Fprintf(w, "%s\n", cli.Bold(fmt.Sprintf("Entry %d", i+1)))
			fmt.Fprint(w, p.Preview())
			fmt.Fprintln(w)
		}
	}

	entries := report.Log.Entries()
	if len(entries) > 0 {
		t := cli.NewTableTo(w, "KIND", "TARGET", "VERDICT", "DETAIL").WithPrefix("  ")
		for _, e := range entries {
			t.Row(string(e.Kind), e.Target, cli.Verdict(string(e.Verdict)), e.Detail)
		}
		t.Flush()
	}

	for _, warn := range report.Log.Warnings() {
		target := string(warn.Kind)
		if warn.Target != "" {
			target = warn.Target
		}
		fmt.Fprintf(w, "%s %s %s\n", cli.Yellow("warning:"), cli.DotPad(target, 20), warn.Message)
	}
	if report.Verified {
		failures := report.Log.VerifyFailures()
		if len(failures) == 0 {
			fmt.Fprintln(w, cli.Green("Verification passed."))
		}
		for _, e := range failures {
			fmt.Fprintf(w, "%s %s %s: %s\n", cli.Red("unconverged:"), e.Kind, e.Target, e.Detail)
		}
	}

	res := report.Result()
	status := cli.Dim("unchanged")
	switch {
	case res.Failed:
		status = cli.Red("failed")
	case res.Changed:
		status = cli.Green("changed")
	}
	fmt.Fprintf(w, "\n%s %s (%s)\n", status, res.Msg, report.Duration.Round(time.Millisecond))
}
