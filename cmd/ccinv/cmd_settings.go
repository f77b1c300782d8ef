package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ccinv/ccinv/pkg/cli"
	"github.com/ccinv/ccinv/pkg/settings"
	"github.com/ccinv/ccinv/pkg/util"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.ccinv/settings.json.

Settings provide defaults for connection flags. Flags, CCINV_* environment
variables and the --config file take precedence.

Examples:
  ccinv settings show
  ccinv settings set controller dnac.example.net
  ccinv settings set verify false
  ccinv settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		fmt.Printf("Settings file: %s\n\n", settings.DefaultSettingsPath())

		t := cli.NewTable("SETTING", "VALUE")
		for _, key := range settings.Keys() {
			value := settingValue(s, key)
			if value == "" {
				value = "(not set)"
			}
			t.Row(key, value)
		}
		t.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Long: `Set a persistent setting value. An empty value clears the setting.

Available settings:
  controller - Catalyst Center host (--host default)
  port       - HTTPS port (--port default)
  username   - API username (--username default)
  verify     - Verify TLS certificates (true/false)
  audit_log  - Audit trail location
  export_dir - Directory for export artifacts
  redis_addr - Redis address for target locking
  archive_password - Password for the credential exports used to compare
                     credentials (or CCINV_ARCHIVE_PASSWORD)

Examples:
  ccinv settings set controller dnac.example.net
  ccinv settings set export_dir /var/lib/ccinv/exports`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			s = &settings.Settings{}
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("%s set to: %s\n", args[0], args[1])
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <setting>",
	Short: "Get a setting value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		key := args[0]
		known := false
		for _, k := range settings.Keys() {
			known = known || k == key
		}
		if !known {
			return fmt.Errorf("unknown setting: %s (valid: %s)", key, strings.Join(settings.Keys(), ", "))
		}
		fmt.Println(settingValue(s, key))
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			s = &settings.Settings{}
		}
		s.Clear()
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("Settings cleared")
		return nil
	},
}

// settingValue renders one setting, with effective defaults for the
// fields that have them.
func settingValue(s *settings.Settings, key string) string {
	switch key {
	case "controller":
		return s.Controller
	case "port":
		if s.Port == 0 {
			return ""
		}
		return strconv.Itoa(s.Port)
	case "username":
		return s.Username
	case "verify":
		return strconv.FormatBool(s.GetVerify())
	case "audit_log":
		return s.GetAuditLog()
	case "export_dir":
		return s.GetExportDir()
	case "redis_addr":
		return s.RedisAddr
	case "archive_password":
		return util.Mask(s.ArchivePassword)
	}
	return ""
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsClearCmd)
}
