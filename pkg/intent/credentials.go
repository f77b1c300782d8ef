package intent

import (
	"strings"
)

func missing(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			out = append(out, pairs[i])
		}
	}
	return out
}

func snmpMissing(c *Credentials) []string {
	if !c.IsV3() {
		return missing("snmp_ro_community", c.SNMPROCommunity)
	}
	out := missing("snmp_mode", c.SNMPMode, "snmp_username", c.SNMPUsername)
	switch strings.ToUpper(c.SNMPMode) {
	case ModeAuthPriv:
		out = append(out, missing(
			"snmp_auth_protocol", c.SNMPAuthProtocol,
			"snmp_auth_passphrase", c.SNMPAuthPassphrase,
			"snmp_priv_protocol", c.SNMPPrivProtocol,
			"snmp_priv_passphrase", c.SNMPPrivPassphrase)...)
	case ModeAuthNoPriv:
		out = append(out, missing(
			"snmp_auth_protocol", c.SNMPAuthProtocol,
			"snmp_auth_passphrase", c.SNMPAuthPassphrase)...)
	}
	return out
}

// classRequirements is the declarative table of per-class add
// requirements. Each entry returns the names of missing fields.
var classRequirements = map[DeviceClass]func(c *Credentials) []string{
	NetworkDevice: func(c *Credentials) []string {
		out := missing("username", c.Username, "password", c.Password)
		return append(out, snmpMissing(c)...)
	},
	ComputeDevice: func(c *Credentials) []string {
		return missing("http_username", c.HTTPUsername, "http_password", c.HTTPPassword)
	},
	Meraki: func(c *Credentials) []string {
		return missing("http_password", c.HTTPPassword)
	},
	Firepower: func(c *Credentials) []string {
		return missing("http_username", c.HTTPUsername, "http_password", c.HTTPPassword, "http_port", c.HTTPPort)
	},
	ThirdParty: snmpMissing,
}

// MissingCredentials returns the credential fields class requires for an
// add that c does not supply.
func MissingCredentials(class DeviceClass, c *Credentials) []string {
	check, ok := classRequirements[class]
	if !ok {
		return nil
	}
	return check(c)
}

var privToWire = map[string]string{
	"AES192": "CISCOAES192",
	"AES256": "CISCOAES256",
}

// WirePrivProtocol maps a declared SNMPv3 privacy protocol to the name the
// controller expects.
func WirePrivProtocol(p string) string {
	p = strings.ToUpper(strings.TrimSpace(p))
	if w, ok := privToWire[p]; ok {
		return w
	}
	return p
}

// CanonicalPrivProtocol maps a wire or declared privacy protocol to a
// comparable form.
func CanonicalPrivProtocol(p string) string {
	p = strings.ToUpper(strings.TrimSpace(p))
	return strings.TrimPrefix(p, "CISCO")
}

// ArchiveKeyBits returns the AES key size an encrypted export is expected
// to use for privacy protocol p, defaulting to 256.
func ArchiveKeyBits(p string) int {
	switch CanonicalPrivProtocol(p) {
	case "AES128":
		return 128
	case "AES192":
		return 192
	default:
		return 256
	}
}
