// Package intent defines the declared inventory state and loads it from a
// YAML document.
//
// A Document carries a top-level intent (merged or deleted) and a list of
// Declared entries. Entries are read-only once Load returns; every
// downstream component takes them by pointer and never mutates them.
package intent

import (
	"strconv"
	"strings"
)

// Intent is the top-level direction of an invocation.
type Intent string

const (
	Merged  Intent = "merged"
	Deleted Intent = "deleted"
)

// DeviceClass determines which credential fields are mandatory.
type DeviceClass string

const (
	NetworkDevice DeviceClass = "NETWORK_DEVICE"
	ComputeDevice DeviceClass = "COMPUTE_DEVICE"
	Meraki        DeviceClass = "MERAKI_DASHBOARD"
	ThirdParty    DeviceClass = "THIRD_PARTY_DEVICE"
	Firepower     DeviceClass = "FIREPOWER_MANAGEMENT_SYSTEM"
)

// Declared roles.
const (
	RoleAccess       = "ACCESS"
	RoleDistribution = "DISTRIBUTION"
	RoleCore         = "CORE"
	RoleBorderRouter = "BORDER_ROUTER"
	RoleUnknown      = "UNKNOWN"
)

// SNMP settings.
const (
	SNMPv2 = "v2"
	SNMPv3 = "v3"

	ModeNoAuthNoPriv = "NOAUTHNOPRIV"
	ModeAuthNoPriv   = "AUTHNOPRIV"
	ModeAuthPriv     = "AUTHPRIV"
)

// Export kinds.
const (
	ExportCredentials = "CREDENTIALS"
	ExportDetails     = "DETAILS"
)

// Batch limits.
const (
	DefaultExportBatch = 500
	MaxExportBatch     = 800
	DefaultResyncBatch = 200
	MaxResyncBatch     = 200
)

// Document is the parsed declarative input.
type Document struct {
	State             Intent `yaml:"state"`
	ConfigVerify      bool   `yaml:"config_verify"`
	ControllerVersion string `yaml:"controller_version"`
	// DeferWirelessProvisioning reports wireless controllers in provisioning
	// requests as deferred instead of provisioning them. Defaults to true.
	DeferWirelessProvisioning *bool      `yaml:"defer_wireless_provisioning"`
	Config                    []Declared `yaml:"config"`
}

// DeferWireless returns the effective wireless deferral toggle.
func (d *Document) DeferWireless() bool {
	return d.DeferWirelessProvisioning == nil || *d.DeferWirelessProvisioning
}

// Declared is one configuration entry.
type Declared struct {
	IPAddressList    []string `yaml:"ip_address_list"`
	HostnameList     []string `yaml:"hostname_list"`
	SerialNumberList []string `yaml:"serial_number_list"`
	MACAddressList   []string `yaml:"mac_address_list"`

	Type        DeviceClass `yaml:"type"`
	Credentials `yaml:",inline"`

	CredentialUpdate bool   `yaml:"credential_update"`
	Role             string `yaml:"role"`

	MgmtIPUpdate      *MgmtIPUpdate        `yaml:"update_mgmt_ipaddress"`
	InterfaceUpdates  []InterfaceUpdate    `yaml:"update_interface_details"`
	UserDefinedFields []UserDefinedField   `yaml:"add_user_defined_field"`
	Export            *ExportRequest       `yaml:"export_device_list"`
	Provision         []ProvisionRequest   `yaml:"provision_wired_device"`
	Resync            *ResyncRequest       `yaml:"resync_device"`
	Reboot            bool                 `yaml:"reboot_device"`
	Maintenance       []MaintenanceRequest `yaml:"maintenance_schedules"`
	CleanConfig       bool                 `yaml:"clean_config"`
}

// HasIdentifiers reports whether any identifier list is populated.
func (d *Declared) HasIdentifiers() bool {
	return len(d.IPAddressList) > 0 || len(d.HostnameList) > 0 ||
		len(d.SerialNumberList) > 0 || len(d.MACAddressList) > 0
}

// Credentials is the credential bundle of an entry.
type Credentials struct {
	CLITransport   string `yaml:"cli_transport"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	EnablePassword string `yaml:"enable_password"`
	NetconfPort    string `yaml:"netconf_port"`

	SNMPVersion        string `yaml:"snmp_version"`
	SNMPMode           string `yaml:"snmp_mode"`
	SNMPROCommunity    string `yaml:"snmp_ro_community"`
	SNMPRWCommunity    string `yaml:"snmp_rw_community"`
	SNMPUsername       string `yaml:"snmp_username"`
	SNMPAuthProtocol   string `yaml:"snmp_auth_protocol"`
	SNMPAuthPassphrase string `yaml:"snmp_auth_passphrase"`
	SNMPPrivProtocol   string `yaml:"snmp_priv_protocol"`
	SNMPPrivPassphrase string `yaml:"snmp_priv_passphrase"`
	SNMPRetry          int    `yaml:"snmp_retry"`
	SNMPTimeout        int    `yaml:"snmp_timeout"`

	HTTPUsername string `yaml:"http_username"`
	HTTPPassword string `yaml:"http_password"`
	HTTPPort     string `yaml:"http_port"`
	HTTPSecure   bool   `yaml:"http_secure"`

	ExtendedDiscoveryInfo string `yaml:"extended_discovery_info"`
}

// IsV3 reports whether SNMPv3 is declared.
func (c *Credentials) IsV3() bool {
	return strings.EqualFold(c.SNMPVersion, SNMPv3)
}

// MgmtIPUpdate moves a device from one management IP to another.
type MgmtIPUpdate struct {
	ExistingIP string `yaml:"exist_mgmt_ipaddress"`
	NewIP      string `yaml:"new_mgmt_ipaddress"`
}

// InterfaceUpdate declares the attributes of one interface.
type InterfaceUpdate struct {
	InterfaceName        string `yaml:"interface_name"`
	Description          string `yaml:"description"`
	AdminStatus          string `yaml:"admin_status"`
	VlanID               int    `yaml:"vlan_id"`
	VoiceVlanID          int    `yaml:"voice_vlan_id"`
	ClearMACAddressTable bool   `yaml:"clear_mac_address_table"`
	DeploymentMode       string `yaml:"deployment_mode"`
}

// UserDefinedField declares a UDF and optionally its value on the targets.
type UserDefinedField struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Value       string `yaml:"value"`
}

// ExportRequest asks for a CSV export of the targets.
type ExportRequest struct {
	Kind      string   `yaml:"operation_enum"`
	Password  string   `yaml:"password"`
	Columns   []string `yaml:"parameters"`
	BatchSize int      `yaml:"batch_size"`
	OutputDir string   `yaml:"output_dir"`
}

// ProvisionRequest assigns a device to a site and provisions it.
type ProvisionRequest struct {
	DeviceIP string `yaml:"device_ip"`
	SiteName string `yaml:"site_name"`
	// RetryCount and RetryInterval (seconds) bound the wait for the device
	// to reach the managed state.
	RetryCount    int `yaml:"resync_retry_count"`
	RetryInterval int `yaml:"resync_retry_interval"`
}

// ResyncRequest resynchronises the targets.
type ResyncRequest struct {
	ForceSync bool `yaml:"force_sync"`
	BatchSize int  `yaml:"batch_size"`
	// MaxTimeout bounds each batch's task wait, in seconds.
	MaxTimeout int `yaml:"max_timeout"`
}

// MaintenanceRequest declares a maintenance window for a set of devices.
type MaintenanceRequest struct {
	DeviceIPs   []string `yaml:"device_ips"`
	Description string   `yaml:"description"`
	StartTime   string   `yaml:"start_time"`
	EndTime     string   `yaml:"end_time"`
	TimeZone    string   `yaml:"time_zone"`
	// RecurrenceEndTime and RecurrenceInterval (days) make the window repeat.
	RecurrenceEndTime  string `yaml:"recurrence_end_time"`
	RecurrenceInterval int    `yaml:"recurrence_interval"`
}

// Recurring reports whether the window repeats.
func (m *MaintenanceRequest) Recurring() bool {
	return m.RecurrenceInterval > 0 || m.RecurrenceEndTime != ""
}

func vlanString(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// VlanString returns the declared data VLAN, or "" when unset.
func (u *InterfaceUpdate) VlanString() string { return vlanString(u.VlanID) }

// VoiceVlanString returns the declared voice VLAN, or "" when unset.
func (u *InterfaceUpdate) VoiceVlanString() string { return vlanString(u.VoiceVlanID) }
