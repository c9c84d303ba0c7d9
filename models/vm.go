// Package models holds the data types shared across the control plane:
// the virtual machine record persisted in the database and the wire types
// spoken over the Firecracker API socket.
package models

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// VMState is the lifecycle state of a virtual machine record.
type VMState string

const (
	VMStateCreated  VMState = "created"
	VMStateStarting VMState = "starting"
	VMStateRunning  VMState = "running"
	VMStatePausing  VMState = "pausing"
	VMStatePaused   VMState = "paused"
	VMStateStopping VMState = "stopping"
	VMStateStopped  VMState = "stopped"
	VMStateDeleting VMState = "deleting"
)

// Transitional reports whether the state marks an in-flight lifecycle
// operation. A request that observes a transitional state is rejected
// rather than queued.
func (s VMState) Transitional() bool {
	switch s {
	case VMStateStarting, VMStatePausing, VMStateStopping, VMStateDeleting:
		return true
	}
	return false
}

// DefaultKernelArgs is the boot command line used when a VM is created
// without an explicit one.
const DefaultKernelArgs = "console=ttyS0 reboot=k panic=1 pci=off"

// VMConfig is the immutable machine configuration fixed at creation time.
type VMConfig struct {
	VCPUCount       int    `json:"vcpu_count"`
	MemSizeMib      int    `json:"mem_size_mib"`
	KernelImagePath string `json:"kernel_image_path"`
	RootFSPath      string `json:"rootfs_path"`
	KernelArgs      string `json:"kernel_args"`
}

// VirtualMachine is the authoritative record of one microVM. One row per VM;
// deletion removes the row, there is no terminal "deleted" state.
type VirtualMachine struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"uniqueIndex" json:"name"`
	VMConfig `gorm:"embedded" json:"config"`
	State    VMState `json:"state"`

	// Paths are derived from the ID at creation and never change, so the
	// console log and sockets can be rediscovered across restarts.
	SocketPath        string    `json:"socket_path"`
	ConsoleSocketPath string    `json:"console_socket_path"`
	LogPath           string    `json:"log_path"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewVirtualMachine builds a record in the Created state with a fresh ID and
// its per-VM paths rooted at dataDir.
func NewVirtualMachine(name string, cfg VMConfig, dataDir string) VirtualMachine {
	if cfg.KernelArgs == "" {
		cfg.KernelArgs = DefaultKernelArgs
	}
	id := uuid.NewString()
	return VirtualMachine{
		ID:                id,
		Name:              name,
		VMConfig:          cfg,
		State:             VMStateCreated,
		SocketPath:        filepath.Join(dataDir, fmt.Sprintf("firecracker-%s.sock", id)),
		ConsoleSocketPath: filepath.Join(dataDir, fmt.Sprintf("firecracker-%s.console.sock", id)),
		LogPath:           filepath.Join(dataDir, fmt.Sprintf("firecracker-%s.log", id)),
	}
}
