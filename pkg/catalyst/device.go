package catalyst

import (
	"strings"

	"github.com/ccinv/ccinv/pkg/util"
)

// Device families the engine treats specially.
const (
	FamilyUnifiedAP          = "Unified AP"
	FamilyWirelessController = "Wireless Controller"
)

// Inventory states.
const (
	StateManaged                 = "Managed"
	StatusPartialCollectionFail  = "Partial Collection Failure"
	StatusCouldNotSynchronize    = "Could Not Synchronize"
	StatusSyncDisabled           = "Sync Disabled"
	StatusInProgress             = "In Progress"
	CollectionStatusManaged      = "Managed"
	CollectionStatusNotSupported = "Not Supported"
)

// Device is one inventory record as reported by devices.get_device_list.
type Device struct {
	ID                 string `json:"id"`
	ManagementIP       string `json:"managementIpAddress"`
	Hostname           string `json:"hostname"`
	SerialNumber       string `json:"serialNumber"`
	MACAddress         string `json:"macAddress"`
	Role               string `json:"role"`
	Family             string `json:"family"`
	Type               string `json:"type"`
	Series             string `json:"series"`
	PlatformID         string `json:"platformId"`
	SoftwareVersion    string `json:"softwareVersion"`
	ManagementState    string `json:"managementState"`
	CollectionStatus   string `json:"collectionStatus"`
	ReachabilityStatus string `json:"reachabilityStatus"`
	APEthernetMAC      string `json:"apEthernetMacAddress"`
	// UserDefinedFields holds the UDF values attached to the device.
	UserDefinedFields map[string]string `json:"userDefinedFields,omitempty"`
}

// IsAccessPoint reports whether the record is a unified access point.
func (d *Device) IsAccessPoint() bool {
	return d.Family == FamilyUnifiedAP
}

// IsWirelessController reports whether the record is a WLC.
func (d *Device) IsWirelessController() bool {
	return d.Family == FamilyWirelessController
}

// IsManaged reports whether inventory collection has completed.
func (d *Device) IsManaged() bool {
	return d.CollectionStatus == CollectionStatusManaged &&
		(d.ManagementState == "" || d.ManagementState == StateManaged)
}

// CollectionFailed reports a collection state the device will not leave
// on its own.
func (d *Device) CollectionFailed() bool {
	switch d.CollectionStatus {
	case StatusPartialCollectionFail, StatusCouldNotSynchronize, StatusSyncDisabled, CollectionStatusNotSupported:
		return true
	}
	return false
}

// HasSerial reports whether serial matches one of the record's serial
// numbers. Stacked switches report a comma-separated list.
func (d *Device) HasSerial(serial string) bool {
	for _, s := range util.SplitCommaSeparated(d.SerialNumber) {
		if strings.EqualFold(s, serial) {
			return true
		}
	}
	return false
}

// HasMAC reports whether mac matches the record's MAC address.
func (d *Device) HasMAC(mac string) bool {
	n := util.NormalizeMAC(mac)
	return n != "" && n == util.NormalizeMAC(d.MACAddress)
}

// Wire role names. Declared roles use underscores, the controller a space.
const (
	RoleAccess       = "ACCESS"
	RoleDistribution = "DISTRIBUTION"
	RoleCore         = "CORE"
	RoleBorderRouter = "BORDER ROUTER"
	RoleUnknown      = "UNKNOWN"
)

// WireRole converts a declared role (BORDER_ROUTER) to its wire form.
func WireRole(role string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(role)), "_", " ")
}

// SameRole compares a declared role against an observed one.
func SameRole(declared, observed string) bool {
	return WireRole(declared) == WireRole(observed)
}

// Interface is one port record.
type Interface struct {
	ID          string `json:"id"`
	DeviceID    string `json:"deviceId"`
	Name        string `json:"portName"`
	Description string `json:"description"`
	AdminStatus string `json:"adminStatus"`
	VlanID      string `json:"vlanId"`
	VoiceVlan   string `json:"voiceVlan"`
	Status      string `json:"status"`
}

// UserDefinedField is a global UDF definition.
type UserDefinedField struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Site is a site record returned by either site API generation.
type Site struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	SiteNameHierarchy string `json:"siteNameHierarchy"`
	NameHierarchy     string `json:"nameHierarchy"`
	Type              string `json:"type"`
}

// Hierarchy returns the site path regardless of API generation.
func (s *Site) Hierarchy() string {
	if s.NameHierarchy != "" {
		return s.NameHierarchy
	}
	return s.SiteNameHierarchy
}

// SiteAssignment is the site a device is assigned to.
type SiteAssignment struct {
	DeviceID          string `json:"deviceId"`
	SiteID            string `json:"siteId"`
	SiteNameHierarchy string `json:"siteNameHierarchy"`
	SiteType          string `json:"siteType"`
}

// ProvisionedDevice is an entry of sda.get_provisioned_devices.
type ProvisionedDevice struct {
	ID              string `json:"id"`
	SiteID          string `json:"siteId"`
	NetworkDeviceID string `json:"networkDeviceId"`
}

// ProvisionStatus is the provisioning state of a device.
type ProvisionStatus int

const (
	ProvisionUnknown ProvisionStatus = iota
	ProvisionNone
	Provisioned
	ProvisionError
)

func (p ProvisionStatus) String() string {
	switch p {
	case ProvisionNone:
		return "unprovisioned"
	case Provisioned:
		return "provisioned"
	case ProvisionError:
		return "error"
	default:
		return "unknown"
	}
}
