package util

import (
	"net"
	"strings"
)

// IsValidIP checks if a string is a valid IPv4 or IPv6 address
func IsValidIP(ipStr string) bool {
	return net.ParseIP(strings.TrimSpace(ipStr)) != nil
}

// NormalizeMAC lowercases a MAC address and converts it to colon form.
// Returns "" for anything that does not parse.
func NormalizeMAC(mac string) string {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return ""
	}
	return strings.ToLower(hw.String())
}

// IsValidMAC checks if a string parses as a MAC address
func IsValidMAC(mac string) bool {
	return NormalizeMAC(mac) != ""
}
