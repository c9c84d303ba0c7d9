package models

// Request bodies for the Firecracker API socket. Field names follow the
// Firecracker wire format, not ours.

type BootSource struct {
	KernelImagePath string `json:"kernel_image_path"`
	BootArgs        string `json:"boot_args,omitempty"`
}

type Drive struct {
	DriveID      string `json:"drive_id"`
	PathOnHost   string `json:"path_on_host"`
	IsRootDevice bool   `json:"is_root_device"`
	IsReadOnly   bool   `json:"is_read_only"`
}

type MachineConfig struct {
	VCPUCount  int `json:"vcpu_count"`
	MemSizeMib int `json:"mem_size_mib"`
}

type InstanceAction struct {
	ActionType string `json:"action_type"`
}

// VMStatePatch drives PATCH /vm. Valid states are "Paused" and "Resumed".
type VMStatePatch struct {
	State string `json:"state"`
}

// FirecrackerFault is the error payload Firecracker returns on a failed call.
type FirecrackerFault struct {
	FaultMessage string `json:"fault_message"`
}
