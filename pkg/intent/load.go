package intent

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to unset fields.
const (
	defaultCLITransport    = "ssh"
	defaultNetconfPort     = "830"
	defaultSNMPRetry       = 3
	defaultSNMPTimeout     = 5
	defaultFirepowerPort   = "443"
	defaultDeploymentMode  = "Deploy"
	defaultResyncTimeout   = 600
	defaultProvisionTries  = 200
	defaultProvisionPeriod = 2
)

// Load reads a YAML document, applies defaults and validates it against
// the current time.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", path, err)
	}
	doc, err := Parse(data, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes, defaults and validates a document. now anchors the
// future-time checks of maintenance windows.
func Parse(data []byte, now time.Time) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	applyDefaults(&doc)
	if err := doc.Validate(now); err != nil {
		return nil, err
	}
	return &doc, nil
}

func applyDefaults(doc *Document) {
	if doc.State == "" {
		doc.State = Merged
	}
	doc.State = Intent(strings.ToLower(string(doc.State)))

	for i := range doc.Config {
		d := &doc.Config[i]
		if d.Type == "" {
			d.Type = NetworkDevice
		}
		d.Type = DeviceClass(strings.ToUpper(string(d.Type)))
		if d.Role != "" {
			d.Role = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(d.Role), " ", "_"))
		}
		applyCredentialDefaults(d.Type, &d.Credentials)

		for j := range d.InterfaceUpdates {
			u := &d.InterfaceUpdates[j]
			if u.DeploymentMode == "" {
				u.DeploymentMode = defaultDeploymentMode
			}
			u.AdminStatus = strings.ToUpper(u.AdminStatus)
		}
		if e := d.Export; e != nil {
			if e.BatchSize == 0 {
				e.BatchSize = DefaultExportBatch
			}
			e.Kind = normalizeExportKind(e.Kind)
		}
		for j := range d.Provision {
			p := &d.Provision[j]
			if p.RetryCount == 0 {
				p.RetryCount = defaultProvisionTries
			}
			if p.RetryInterval == 0 {
				p.RetryInterval = defaultProvisionPeriod
			}
		}
		if r := d.Resync; r != nil {
			if r.BatchSize == 0 {
				r.BatchSize = DefaultResyncBatch
			}
			if r.MaxTimeout == 0 {
				r.MaxTimeout = defaultResyncTimeout
			}
		}
	}
}

func applyCredentialDefaults(class DeviceClass, c *Credentials) {
	c.SNMPVersion = strings.ToLower(c.SNMPVersion)
	if c.SNMPVersion == "v2c" {
		c.SNMPVersion = SNMPv2
	}
	c.SNMPMode = strings.ToUpper(c.SNMPMode)
	c.SNMPAuthProtocol = strings.ToUpper(c.SNMPAuthProtocol)
	c.SNMPPrivProtocol = strings.ToUpper(c.SNMPPrivProtocol)
	c.CLITransport = strings.ToLower(c.CLITransport)

	switch class {
	case NetworkDevice:
		if c.CLITransport == "" {
			c.CLITransport = defaultCLITransport
		}
		if c.NetconfPort == "" && c.CLITransport != "telnet" {
			c.NetconfPort = defaultNetconfPort
		}
		if c.SNMPVersion == "" {
			c.SNMPVersion = SNMPv2
		}
	case ThirdParty:
		if c.SNMPVersion == "" {
			c.SNMPVersion = SNMPv2
		}
	case Firepower:
		if c.HTTPPort == "" {
			c.HTTPPort = defaultFirepowerPort
		}
	}
	if c.SNMPRetry == 0 {
		c.SNMPRetry = defaultSNMPRetry
	}
	if c.SNMPTimeout == 0 {
		c.SNMPTimeout = defaultSNMPTimeout
	}
}

func normalizeExportKind(kind string) string {
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case "", "DEVICEDETAILS", ExportDetails, "DEVICE_DETAILS":
		return ExportDetails
	case "CREDENTIALDETAILS", ExportCredentials, "CREDENTIAL_DETAILS":
		return ExportCredentials
	default:
		return strings.ToUpper(kind)
	}
}
