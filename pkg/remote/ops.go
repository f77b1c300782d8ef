package remote

import "net/http"

// Device inventory operations.
var (
	GetDeviceList             = Op{"devices", "get_device_list"}
	GetDeviceCount            = Op{"devices", "get_device_count"}
	AddDevice                 = Op{"devices", "add_device"}
	SyncDevices               = Op{"devices", "sync_devices"}
	ForceSyncDevices          = Op{"devices", "sync_devices_using_forcesync"}
	UpdateDeviceRole          = Op{"devices", "update_device_role"}
	GetInterfaceDetails       = Op{"devices", "get_interface_details"}
	UpdateInterfaceDetails    = Op{"devices", "update_interface_details"}
	ClearMACAddressTable      = Op{"devices", "clear_mac_address_table"}
	DeleteDeviceByID          = Op{"devices", "delete_device_by_id"}
	DeleteDeviceWithCleanup   = Op{"devices", "delete_network_device_with_configuration_cleanup"}
	DeleteDeviceNoCleanup     = Op{"devices", "delete_a_network_device_without_configuration_cleanup"}
	ExportDeviceList          = Op{"devices", "export_device_list"}
	GetAllUserDefinedFields   = Op{"devices", "get_all_user_defined_fields"}
	CreateUserDefinedField    = Op{"devices", "create_user_defined_field"}
	DeleteUserDefinedField    = Op{"devices", "delete_user_defined_field"}
	AddUserDefinedFieldToDev  = Op{"devices", "add_user_defined_field_to_device"}
	RemoveUserDefinedFieldDev = Op{"devices", "remove_user_defined_field_from_device"}
	GetMaintenanceSchedules   = Op{"devices", "retrieve_scheduled_maintenance_windows_for_network_devices"}
	CreateMaintenanceSchedule = Op{"devices", "create_maintenance_schedule_for_network_devices"}
	UpdateMaintenanceSchedule = Op{"devices", "updates_the_maintenance_schedule_information"}
	DeleteMaintenanceSchedule = Op{"devices", "delete_maintenance_schedule"}
)

// Provisioning, site, task and platform operations.
var (
	ProvisionWiredDevice      = Op{"sda", "provision_wired_device"}
	GetProvisionedWiredDevice = Op{"sda", "get_provisioned_wired_device"}
	DeleteProvisionedWiredDev = Op{"sda", "delete_provisioned_wired_device"}
	ProvisionDevices          = Op{"sda", "provision_devices"}
	GetProvisionedDevices     = Op{"sda", "get_provisioned_devices"}
	DeleteProvisionedDevices  = Op{"sda", "delete_provisioned_devices"}
	RebootAccessPoints        = Op{"wireless", "reboot_access_points"}
	DownloadFile              = Op{"file", "download_a_file_by_fileid"}
	GetTaskByID               = Op{"task", "get_task_by_id"}
	GetSite                   = Op{"sites", "get_site"}
	GetSites                  = Op{"site_design", "get_sites"}
	AssignDevicesToSite       = Op{"site_design", "assign_network_devices_to_a_site"}
	GetSiteAssignedDevice     = Op{"site_design", "get_site_assigned_network_device"}
	GetReleaseSummary         = Op{"platform", "get_release_summary"}
)

// route maps an operation onto an HTTP method and path template.
type route struct {
	Method   string
	Path     string
	Download bool
}

const (
	intentV1 = "/dna/intent/api/v1"
)

var routes = map[Op]route{
	GetDeviceList:             {http.MethodGet, intentV1 + "/network-device", false},
	GetDeviceCount:            {http.MethodGet, intentV1 + "/network-device/count", false},
	AddDevice:                 {http.MethodPost, intentV1 + "/network-device", false},
	SyncDevices:               {http.MethodPut, intentV1 + "/network-device", false},
	ForceSyncDevices:          {http.MethodPut, intentV1 + "/network-device/sync", false},
	UpdateDeviceRole:          {http.MethodPut, intentV1 + "/network-device/brief", false},
	GetInterfaceDetails:       {http.MethodGet, intentV1 + "/interface/network-device/{device_id}/interface-name", false},
	UpdateInterfaceDetails:    {http.MethodPut, intentV1 + "/interface/{interface_uuid}", false},
	ClearMACAddressTable:      {http.MethodPost, intentV1 + "/interface/{interface_uuid}/operation", false},
	DeleteDeviceByID:          {http.MethodDelete, intentV1 + "/network-device/{id}", false},
	DeleteDeviceWithCleanup:   {http.MethodPost, intentV1 + "/networkDevices/deleteWithCleanup", false},
	DeleteDeviceNoCleanup:     {http.MethodPost, intentV1 + "/networkDevices/deleteWithoutCleanup", false},
	ExportDeviceList:          {http.MethodPost, intentV1 + "/network-device/file", false},
	GetAllUserDefinedFields:   {http.MethodGet, intentV1 + "/network-device/user-defined-field", false},
	CreateUserDefinedField:    {http.MethodPost, intentV1 + "/network-device/user-defined-field", false},
	DeleteUserDefinedField:    {http.MethodDelete, intentV1 + "/network-device/user-defined-field/{id}", false},
	AddUserDefinedFieldToDev:  {http.MethodPut, intentV1 + "/network-device/{device_id}/user-defined-field", false},
	RemoveUserDefinedFieldDev: {http.MethodDelete, intentV1 + "/network-device/{device_id}/user-defined-field", false},
	GetMaintenanceSchedules:   {http.MethodGet, intentV1 + "/networkDeviceMaintenanceSchedules", false},
	CreateMaintenanceSchedule: {http.MethodPost, intentV1 + "/networkDeviceMaintenanceSchedules", false},
	UpdateMaintenanceSchedule: {http.MethodPut, intentV1 + "/networkDeviceMaintenanceSchedules/{id}", false},
	DeleteMaintenanceSchedule: {http.MethodDelete, intentV1 + "/networkDeviceMaintenanceSchedules/{id}", false},
	ProvisionWiredDevice:      {http.MethodPost, intentV1 + "/business/sda/provision-device", false},
	GetProvisionedWiredDevice: {http.MethodGet, intentV1 + "/business/sda/provision-device", false},
	DeleteProvisionedWiredDev: {http.MethodDelete, intentV1 + "/business/sda/provision-device", false},
	ProvisionDevices:          {http.MethodPost, intentV1 + "/sda/provisionDevices", false},
	GetProvisionedDevices:     {http.MethodGet, intentV1 + "/sda/provisionDevices", false},
	DeleteProvisionedDevices:  {http.MethodDelete, intentV1 + "/sda/provisionDevices", false},
	RebootAccessPoints:        {http.MethodPost, intentV1 + "/device-reboot/apreboot", false},
	DownloadFile:              {http.MethodGet, intentV1 + "/file/{file_id}", true},
	GetTaskByID:               {http.MethodGet, intentV1 + "/task/{task_id}", false},
	GetSite:                   {http.MethodGet, intentV1 + "/site", false},
	GetSites:                  {http.MethodGet, intentV1 + "/sites", false},
	AssignDevicesToSite:       {http.MethodPost, intentV1 + "/networkDevices/assignToSite/apply", false},
	GetSiteAssignedDevice:     {http.MethodGet, intentV1 + "/networkDevices/{id}/assignedToSite", false},
	GetReleaseSummary:         {http.MethodGet, intentV1 + "/dnac-release", false},
}

// Known reports whether the operation has a route.
func Known(op Op) bool {
	_, ok := routes[op]
	return ok
}

// Mutating reports whether the operation changes controller state. Export
// is treated as a read.
func Mutating(op Op) bool {
	r, ok := routes[op]
	if !ok || op == ExportDeviceList {
		return false
	}
	return r.Method != http.MethodGet
}
