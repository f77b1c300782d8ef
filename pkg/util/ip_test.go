package util

import "testing"

func TestIsValidIP(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"10.0.0.1", true},
		{" 10.0.0.1 ", true},
		{"2001:db8::1", true},
		{"router1", false},
	}
	for _, tt := range tests {
		if got := IsValidIP(tt.in); got != tt.want {
			t.Errorf("IsValidIP(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff"},
		{"aa-bb-cc-dd-ee-ff", "aa:bb:cc:dd:ee:ff"},
		{"aabb.ccdd.eeff", "aa:bb:cc:dd:ee:ff"},
		{"not-a-mac", ""},
	}
	for _, tt := range tests {
		if got := NormalizeMAC(tt.in); got != tt.want {
			t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if IsValidMAC("zz:zz") {
		t.Error("IsValidMAC(zz:zz) = true")
	}
}
