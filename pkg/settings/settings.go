// Package settings manages persistent user settings for the ccinv CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Settings holds persistent user preferences. Flags and CCINV_* environment
// variables override them.
type Settings struct {
	// Controller is the Catalyst Center host used when --host is not given.
	Controller string `json:"controller,omitempty"`
	Port       int    `json:"port,omitempty"`
	Username   string `json:"username,omitempty"`
	// Verify enables TLS certificate verification.
	Verify *bool `json:"verify,omitempty"`

	// AuditLog overrides the audit trail location.
	AuditLog string `json:"audit_log,omitempty"`

	// ExportDir receives export artifacts when a document names no
	// output directory.
	ExportDir string `json:"export_dir,omitempty"`

	// RedisAddr enables target locking through this Redis server.
	RedisAddr string `json:"redis_addr,omitempty"`

	// ArchivePassword protects the credential exports read to compare
	// declared credentials against the controller's.
	ArchivePassword string `json:"archive_password,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ccinv_settings.json"
	}
	return filepath.Join(home, ".ccinv", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// GetAuditLog returns the audit log path (with fallback)
func (s *Settings) GetAuditLog() string {
	if s.AuditLog != "" {
		return s.AuditLog
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "ccinv_audit.log"
	}
	return filepath.Join(home, ".ccinv", "audit.log")
}

// GetExportDir returns the export directory (with fallback)
func (s *Settings) GetExportDir() string {
	if s.ExportDir != "" {
		return s.ExportDir
	}
	return "."
}

// GetVerify returns whether TLS certificates are verified. Defaults to true.
func (s *Settings) GetVerify() bool {
	return s.Verify == nil || *s.Verify
}

// Keys lists the names accepted by Set.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var setters = map[string]func(s *Settings, v string) error{
	"controller": func(s *Settings, v string) error { s.Controller = v; return nil },
	"username":   func(s *Settings, v string) error { s.Username = v; return nil },
	"audit_log":  func(s *Settings, v string) error { s.AuditLog = v; return nil },
	"export_dir": func(s *Settings, v string) error { s.ExportDir = v; return nil },
	"redis_addr": func(s *Settings, v string) error { s.RedisAddr = v; return nil },
	"archive_password": func(s *Settings, v string) error {
		s.ArchivePassword = v
		return nil
	},
	"port": func(s *Settings, v string) error {
		if v == "" {
			s.Port = 0
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("invalid port %q", v)
		}
		s.Port = n
		return nil
	},
	"verify": func(s *Settings, v string) error {
		if v == "" {
			s.Verify = nil
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		s.Verify = &b
		return nil
	},
}

// Set assigns one setting by name. An empty value clears it.
func (s *Settings) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown setting %q (valid: %v)", key, Keys())
	}
	return set(s, value)
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
