package vm

import (
	"context"
	"io"
	"os"

	"gitlab.com/glidex/control-plane/models"
)

// Process is a live hypervisor child process backing one VM record.
type Process interface {
	// PID of the hypervisor process.
	PID() int
	// Console is the controlling side of the pseudo-terminal the process's
	// stdio is attached to. Ownership passes to the console proxy once the
	// VM is running.
	Console() *os.File
}

// Supervisor owns the relationship between a VM record and its backing
// hypervisor process: spawning, driving the control protocol, and tearing
// the process down.
type Supervisor interface {
	// Spawn launches a hypervisor process for the record and blocks until
	// its control socket is reachable. The process is not configured yet.
	Spawn(ctx context.Context, rec models.VirtualMachine) (Process, error)

	// Configure runs the fixed machine-config/boot-source/drive sequence
	// over the control socket. On error the caller must Terminate the
	// process; Configure never leaves it half-torn-down itself.
	Configure(ctx context.Context, rec models.VirtualMachine) error

	StartInstance(ctx context.Context, rec models.VirtualMachine) error
	Pause(ctx context.Context, rec models.VirtualMachine) error
	Resume(ctx context.Context, rec models.VirtualMachine) error

	// Terminate requests a graceful shutdown, escalates to SIGKILL after a
	// bounded wait, and always reaps the process before returning.
	Terminate(ctx context.Context, p Process) error

	// Exits delivers exactly one event per process that terminated without
	// this supervisor asking it to.
	Exits() <-chan ExitEvent
}

// ExitEvent reports an unexpected hypervisor process exit.
type ExitEvent struct {
	VMID string
	Err  error
}

// ConsoleManager wires a running VM's pseudo-terminal to its console log and
// broadcast socket, and serves historical log content.
type ConsoleManager interface {
	// Attach starts the console proxy for the record. The proxy reads
	// through its own duplicate of the pseudo-terminal fd; the returned
	// closer detaches all clients, releases that handle and removes the
	// console socket. It never deletes the log file.
	Attach(rec models.VirtualMachine, console *os.File) (io.Closer, error)

	// ReadLog returns the full historical console log, whether or not the
	// VM is currently running.
	ReadLog(rec models.VirtualMachine) ([]byte, error)
}
