// ccinv - Catalyst Center Inventory Reconciler
//
// A CLI tool that converges a Catalyst Center device inventory onto a
// declarative YAML document:
//   - merged documents add, update, provision, resync, reboot and export devices
//   - deleted documents remove devices and cancel maintenance windows
//   - Dry-run by default (preview the plan, require -x to execute)
//   - Audit logging of every invocation
//
// Examples:
//
//	ccinv plan inventory.yml                     # Preview the changes
//	ccinv apply inventory.yml -x                 # Execute them
//	ccinv apply inventory.yml -x --verify-after  # Execute, then check convergence
//	ccinv audit list --last 24h --changed
package main

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ccinv/ccinv/pkg/audit"
	"github.com/ccinv/ccinv/pkg/cli"
	"github.com/ccinv/ccinv/pkg/settings"
	"github.com/ccinv/ccinv/pkg/util"
	"github.com/ccinv/ccinv/pkg/version"
)

var (
	// Connection flags (layered with CCINV_* and settings through viper)
	configFile        string
	host              string
	port              int
	username          string
	verifyTLS         bool
	controllerVersion string
	redisAddr         string

	// Global option flags
	executeMode bool
	verifyAfter bool
	verbose     bool
	logJSON     bool
	jsonOutput  bool
	metricsFile string

	// Global state
	userSettings *settings.Settings
	conf         *viper.Viper
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "ccinv",
	Short:             "Catalyst Center Inventory Reconciler",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `ccinv reconciles a Catalyst Center device inventory against a declarative
YAML document. Every run observes the controller, computes the changes and
applies only what differs.

apply previews changes by default; use -x to execute.

  ccinv apply <document.yml> [-x] [--verify-after]`,
}

func init() {
	// Assigned here rather than in the literal: the hook reaches rootCmd
	// through bindConnectionFlags, which would be an initialization cycle.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if isSettingsOrHelp(cmd) {
			return nil
		}

		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}

		// Set log level: quiet by default, verbose on -v
		if verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}
		if logJSON {
			util.SetJSONFormat()
		}

		conf, err = loadConfig(configFile, userSettings)
		if err != nil {
			return err
		}
		if err := bindConnectionFlags(conf); err != nil {
			return fmt.Errorf("binding flags: %w", err)
		}

		auditLogger, err := audit.NewFileLogger(userSettings.GetAuditLog(), audit.RotationConfig{
			MaxSize:    10 * 1024 * 1024, // 10MB
			MaxBackups: 10,
		})
		if err != nil {
			util.Warnf("Could not initialize audit logging: %v", err)
		} else {
			audit.SetDefaultLogger(auditLogger)
		}

		return nil
	}

	// Connection flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Connection config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "", "Catalyst Center host")
	rootCmd.PersistentFlags().IntVar(&port, "port", 443, "Catalyst Center HTTPS port")
	rootCmd.PersistentFlags().StringVarP(&username, "username", "u", "", "API username")
	rootCmd.PersistentFlags().BoolVar(&verifyTLS, "verify", true, "Verify the controller TLS certificate")
	rootCmd.PersistentFlags().StringVar(&controllerVersion, "controller-version", "", "Controller release (skips detection), e.g. 2.3.7.6")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "Redis address used to lock targets across invocations")

	// Option flags (global)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit log lines as JSON on stderr")

	for _, cmd := range []*cobra.Command{planCmd, applyCmd} {
		addOutputFlags(cmd)
		cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	}
	addWriteFlags(applyCmd)
	addOutputFlags(auditListCmd)

	// ============================================================================
	// Command Groups
	// ============================================================================

	rootCmd.AddGroup(
		&cobra.Group{ID: "reconcile", Title: "Reconciliation:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range []*cobra.Command{planCmd, applyCmd} {
		cmd.GroupID = "reconcile"
		rootCmd.AddCommand(cmd)
	}

	for _, cmd := range []*cobra.Command{settingsCmd, auditCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

func addWriteFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&executeMode, "execute", "x", false, "Execute changes (default is dry-run)")
	cmd.Flags().BoolVar(&verifyAfter, "verify-after", false, "Re-observe after executing and report unconverged targets")
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
}

// isSettingsOrHelp reports whether cmd runs without connection setup.
func isSettingsOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "settings", "help", "version":
			return true
		}
	}
	return false
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion("ccinv")
	},
}

func printVersion(tool string) {
	if version.Version == "dev" {
		fmt.Printf("%s dev build (set -ldflags -X for version info)\n", tool)
	} else {
		fmt.Printf("%s %s\n", tool, version.Info())
	}
}

// ============================================================================
// Output Helpers
// ============================================================================

func printDryRunNotice() {
	if !executeMode {
		fmt.Println("\n" + cli.Yellow("DRY-RUN: No changes applied. Use -x to execute."))
	}
}

// currentUser names the operator in audit events.
func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
