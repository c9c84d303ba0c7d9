package firecracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"

	"gitlab.com/glidex/control-plane/models"
	"gitlab.com/glidex/control-plane/vm"
)

const (
	socketWaitTimeout  = 5 * time.Second
	socketPollInterval = 100 * time.Millisecond

	actionInstanceStart = "InstanceStart"
	actionCtrlAltDel    = "SendCtrlAltDel"

	vmStatePaused  = "Paused"
	vmStateResumed = "Resumed"

	rootDriveID = "rootfs"
)

// ErrSpawn marks OS-level failures to get a Firecracker process up with a
// reachable API socket.
var ErrSpawn = errors.New("failed to spawn firecracker")

// ConfigError is a control-protocol configuration step rejected by
// Firecracker. Remote carries the failing call's error, including the fault
// payload when there was one.
type ConfigError struct {
	Step   string
	Remote error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuring %s: %v", e.Step, e.Remote)
}

func (e *ConfigError) Unwrap() error { return e.Remote }

// Handle is a live Firecracker process owned by the Supervisor on behalf of
// one VM record.
type Handle struct {
	vmID       string
	socketPath string
	cmd        *exec.Cmd
	console    *os.File // PTY controlling side

	done     chan struct{} // closed once the process is reaped
	waitErr  error
	expected atomic.Bool // set before any shutdown this supervisor initiates
}

func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *Handle) Console() *os.File { return h.console }

// Supervisor spawns and tears down Firecracker processes, one per VM.
type Supervisor struct {
	binary          string
	shutdownTimeout time.Duration
	exits           chan vm.ExitEvent
}

func NewSupervisor(binary string, shutdownTimeout time.Duration) *Supervisor {
	return &Supervisor{
		binary:          binary,
		shutdownTimeout: shutdownTimeout,
		exits:           make(chan vm.ExitEvent, 16),
	}
}

// Exits reports processes that terminated without this supervisor asking,
// exactly once per process.
func (s *Supervisor) Exits() <-chan vm.ExitEvent { return s.exits }

// Spawn launches the Firecracker binary with a dedicated API socket and its
// stdio on a fresh pseudo-terminal, then waits (bounded) for the API socket
// to appear. On any failure the partially-spawned process is killed before
// the error is returned.
func (s *Supervisor) Spawn(ctx context.Context, rec models.VirtualMachine) (vm.Process, error) {
	// Stale socket files from a previous run would break both the listener
	// inside firecracker and our readiness probe.
	os.Remove(rec.SocketPath)
	os.Remove(rec.ConsoleSocketPath)

	cmd := exec.Command(s.binary, "--api-sock", rec.SocketPath)
	console, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	h := &Handle{
		vmID:       rec.ID,
		socketPath: rec.SocketPath,
		cmd:        cmd,
		console:    console,
		done:       make(chan struct{}),
	}

	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	go s.watch(h)

	zlog.Sugar().Infof("spawned firecracker pid %d for VM %s", h.PID(), rec.ID)

	deadline := time.Now().Add(socketWaitTimeout)
	for {
		if _, err := os.Stat(rec.SocketPath); err == nil {
			return h, nil
		}
		if time.Now().After(deadline) {
			s.abortSpawn(h)
			return nil, fmt.Errorf("%w: API socket %s not available after %s",
				ErrSpawn, rec.SocketPath, socketWaitTimeout)
		}
		select {
		case <-h.done:
			h.expected.Store(true)
			h.console.Close()
			return nil, fmt.Errorf("%w: firecracker exited before its API socket appeared: %v",
				ErrSpawn, h.waitErr)
		case <-ctx.Done():
			s.abortSpawn(h)
			return nil, ctx.Err()
		case <-time.After(socketPollInterval):
		}
	}
}

// abortSpawn kills a process that never became ready, without emitting a
// crash event.
func (s *Supervisor) abortSpawn(h *Handle) {
	h.expected.Store(true)
	syscall.Kill(h.PID(), syscall.SIGKILL)
	<-h.done
	h.console.Close()
	os.Remove(h.socketPath)
}

// watch reports an unexpected process exit to the registry, once.
func (s *Supervisor) watch(h *Handle) {
	<-h.done
	if h.expected.Load() {
		return
	}
	zlog.Sugar().Warnf("firecracker process for VM %s exited unexpectedly: %v", h.vmID, h.waitErr)
	s.exits <- vm.ExitEvent{VMID: h.vmID, Err: h.waitErr}
}

// Configure runs the fixed configuration sequence over the VM's API socket.
// The first rejected step aborts with a ConfigError; the caller decides what
// to do with the process.
func (s *Supervisor) Configure(ctx context.Context, rec models.VirtualMachine) error {
	client := NewClient(rec.SocketPath)

	machineCfg := models.MachineConfig{
		VCPUCount:  rec.VCPUCount,
		MemSizeMib: rec.MemSizeMib,
	}
	if err := client.PutMachineConfig(ctx, machineCfg); err != nil {
		return &ConfigError{Step: "machine-config", Remote: err}
	}

	bootSource := models.BootSource{
		KernelImagePath: rec.KernelImagePath,
		BootArgs:        rec.KernelArgs,
	}
	if err := client.PutBootSource(ctx, bootSource); err != nil {
		return &ConfigError{Step: "boot-source", Remote: err}
	}

	rootDrive := models.Drive{
		DriveID:      rootDriveID,
		PathOnHost:   rec.RootFSPath,
		IsRootDevice: true,
		IsReadOnly:   false,
	}
	if err := client.PutDrive(ctx, rootDriveID, rootDrive); err != nil {
		return &ConfigError{Step: "drives", Remote: err}
	}

	return nil
}

func (s *Supervisor) StartInstance(ctx context.Context, rec models.VirtualMachine) error {
	return NewClient(rec.SocketPath).CreateSyncAction(ctx, actionInstanceStart)
}

func (s *Supervisor) Pause(ctx context.Context, rec models.VirtualMachine) error {
	return NewClient(rec.SocketPath).PatchVMState(ctx, vmStatePaused)
}

func (s *Supervisor) Resume(ctx context.Context, rec models.VirtualMachine) error {
	return NewClient(rec.SocketPath).PatchVMState(ctx, vmStateResumed)
}

// Terminate asks the guest to shut down, escalates to SIGKILL after the
// grace period, and always waits for the process to be reaped so no VM ever
// reports stopped while its process is alive.
func (s *Supervisor) Terminate(ctx context.Context, p vm.Process) error {
	h, ok := p.(*Handle)
	if !ok {
		return fmt.Errorf("firecracker: foreign process handle %T", p)
	}

	h.expected.Store(true)
	defer os.Remove(h.socketPath)

	if err := NewClient(h.socketPath).CreateSyncAction(ctx, actionCtrlAltDel); err != nil {
		zlog.Sugar().Debugf("graceful shutdown request for VM %s failed: %v", h.vmID, err)
	}

	select {
	case <-h.done:
	case <-time.After(s.shutdownTimeout):
		zlog.Sugar().Warnf("firecracker pid %d for VM %s did not exit in %s, sending SIGKILL",
			h.PID(), h.vmID, s.shutdownTimeout)
		if err := syscall.Kill(h.PID(), syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return fmt.Errorf("failed to kill firecracker pid %d: %w", h.PID(), err)
		}
		<-h.done
	}

	h.console.Close()
	zlog.Sugar().Infof("firecracker process for VM %s terminated", h.vmID)
	return nil
}
