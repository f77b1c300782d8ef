package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSettings_Defaults(t *testing.T) {
	s := &Settings{}

	if got := s.GetExportDir(); got != "." {
		t.Errorf("GetExportDir() default = %q, want %q", got, ".")
	}
	if !s.GetVerify() {
		t.Error("GetVerify() default should be true")
	}
	if got := s.GetAuditLog(); !strings.HasSuffix(got, "audit.log") {
		t.Errorf("GetAuditLog() default = %q", got)
	}
}

func TestSettings_Set(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
		check      func(*Settings) bool
	}{
		{"controller", "dnac.example.net", false, func(s *Settings) bool { return s.Controller == "dnac.example.net" }},
		{"username", "admin", false, func(s *Settings) bool { return s.Username == "admin" }},
		{"port", "8443", false, func(s *Settings) bool { return s.Port == 8443 }},
		{"port", "http", true, nil},
		{"port", "70000", true, nil},
		{"verify", "false", false, func(s *Settings) bool { return !s.GetVerify() }},
		{"verify", "maybe", true, nil},
		{"redis_addr", "localhost:6379", false, func(s *Settings) bool { return s.RedisAddr == "localhost:6379" }},
		{"export_dir", "/var/tmp/exports", false, func(s *Settings) bool { return s.GetExportDir() == "/var/tmp/exports" }},
		{"audit_log", "/var/log/ccinv.log", false, func(s *Settings) bool { return s.GetAuditLog() == "/var/log/ccinv.log" }},
		{"archive_password", "Exp0rt!pw", false, func(s *Settings) bool { return s.ArchivePassword == "Exp0rt!pw" }},
		{"network", "x", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			s := &Settings{}
			err := s.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(s) {
				t.Errorf("Set(%q, %q) left %+v", tt.key, tt.value, s)
			}
		})
	}
}

func TestSettings_SetEmptyClears(t *testing.T) {
	s := &Settings{Port: 8443}
	if err := s.Set("port", ""); err != nil || s.Port != 0 {
		t.Errorf("Set(port, \"\") = %v, Port = %d", err, s.Port)
	}
	if err := s.Set("verify", "false"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("verify", ""); err != nil || s.Verify != nil {
		t.Errorf("Set(verify, \"\") left Verify = %v", s.Verify)
	}
}

func TestSettings_Clear(t *testing.T) {
	s := &Settings{Controller: "dnac", Username: "admin", RedisAddr: "r:6379"}
	s.Clear()
	if s.Controller != "" || s.Username != "" || s.RedisAddr != "" {
		t.Error("Clear() should reset all fields to empty")
	}
}

func TestSettings_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	verify := false
	original := &Settings{
		Controller: "dnac.example.net",
		Port:       8443,
		Username:   "admin",
		Verify:     &verify,
		RedisAddr:  "localhost:6379",
	}
	if err := original.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if loaded.Controller != original.Controller || loaded.Port != 8443 || loaded.Username != "admin" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.GetVerify() {
		t.Error("Verify should round-trip as false")
	}
}

func TestSettings_LoadMissingAndInvalid(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadFrom(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("LoadFrom(missing) error = %v", err)
	}
	if s.Controller != "" {
		t.Errorf("missing file should yield empty settings, got %+v", s)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(bad); err == nil {
		t.Error("LoadFrom(invalid) should fail")
	}
}

func TestDefaultSettingsPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	want := filepath.Join(home, ".ccinv", "settings.json")
	if got := DefaultSettingsPath(); got != want {
		t.Errorf("DefaultSettingsPath() = %q, want %q", got, want)
	}
}
