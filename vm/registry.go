package vm

import (
	"context"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"gitlab.com/glidex/control-plane/models"
)

// entry pairs a persisted record with the runtime resources of its process.
// The entry mutex serializes lifecycle decisions; it is never held across
// blocking supervisor or console calls. Concurrent requests arriving while an
// operation is in flight observe the transitional state and are rejected.
type entry struct {
	mu          sync.Mutex
	rec         models.VirtualMachine
	process     Process
	proxy       io.Closer
	pendingExit *ExitEvent
}

// Registry owns every VM known to the control plane. All lifecycle
// operations go through it; it is safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	byID map[string]*entry

	db       *gorm.DB
	sup      Supervisor
	consoles ConsoleManager
	dataDir  string
}

func NewRegistry(database *gorm.DB, sup Supervisor, consoles ConsoleManager, dataDir string) *Registry {
	return &Registry{
		byID:     make(map[string]*entry),
		db:       database,
		sup:      sup,
		consoles: consoles,
		dataDir:  dataDir,
	}
}

// Reconcile loads persisted records into the registry. Process handles do
// not survive a control-plane restart, so any record caught mid-flight is
// grounded to Stopped and its leftover socket files are removed.
func (r *Registry) Reconcile() error {
	var recs []models.VirtualMachine
	if err := r.db.Find(&recs).Error; err != nil {
		return errors.Wrap(err, "loading vm records")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range recs {
		if rec.State != models.VMStateCreated && rec.State != models.VMStateStopped {
			zlog.Sugar().Warnf("vm %s was %s at shutdown, marking stopped", rec.Name, rec.State)
			rec.State = models.VMStateStopped
			if err := r.db.Save(&rec).Error; err != nil {
				return errors.Wrapf(err, "reconciling vm %s", rec.Name)
			}
			os.Remove(rec.SocketPath)
			os.Remove(rec.ConsoleSocketPath)
		}
		r.byID[rec.ID] = &entry{rec: rec}
	}

	zlog.Sugar().Infof("reconciled %d vm records", len(recs))
	return nil
}

// Create validates the configuration, persists a new record in the Created
// state and registers it. The name must be unique among live records.
func (r *Registry) Create(name string, cfg models.VMConfig) (models.VirtualMachine, error) {
	if err := validateConfig(name, cfg); err != nil {
		return models.VirtualMachine{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.byID {
		if e.rec.Name == name {
			return models.VirtualMachine{}, errors.Wrap(ErrDuplicateName, name)
		}
	}

	rec := models.NewVirtualMachine(name, cfg, r.dataDir)
	if err := r.db.Create(&rec).Error; err != nil {
		return models.VirtualMachine{}, errors.Wrapf(err, "persisting vm %s", name)
	}

	r.byID[rec.ID] = &entry{rec: rec}
	zlog.Sugar().Infof("created vm %s (%s)", name, rec.ID)
	return rec, nil
}

func validateConfig(name string, cfg models.VMConfig) error {
	if name == "" {
		return &InvalidConfigError{Reason: "name must not be empty"}
	}
	if cfg.VCPUCount <= 0 {
		return &InvalidConfigError{Reason: "vcpu_count must be positive"}
	}
	if cfg.MemSizeMib <= 0 {
		return &InvalidConfigError{Reason: "mem_size_mib must be positive"}
	}
	if _, err := os.Stat(cfg.KernelImagePath); err != nil {
		return &InvalidConfigError{Reason: "kernel image not accessible: " + cfg.KernelImagePath}
	}
	if _, err := os.Stat(cfg.RootFSPath); err != nil {
		return &InvalidConfigError{Reason: "rootfs not accessible: " + cfg.RootFSPath}
	}
	return nil
}

// List returns a snapshot of every record, oldest first.
func (r *Registry) List() []models.VirtualMachine {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	recs := make([]models.VirtualMachine, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		recs = append(recs, e.rec)
		e.mu.Unlock()
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].Name < recs[j].Name
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	return recs
}

// Get returns the record matching ref, which may be an ID or a name.
func (r *Registry) Get(ref string) (models.VirtualMachine, error) {
	e, err := r.resolve(ref)
	if err != nil {
		return models.VirtualMachine{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

func (r *Registry) resolve(ref string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byID[ref]; ok {
		return e, nil
	}
	for _, e := range r.byID {
		if e.rec.Name == ref {
			return e, nil
		}
	}
	return nil, errors.Wrap(ErrNotFound, ref)
}

// saveState persists the entry's current state. Callers hold the entry lock.
func (r *Registry) saveState(e *entry) error {
	err := r.db.Model(&models.VirtualMachine{}).
		Where("id = ?", e.rec.ID).
		Update("state", e.rec.State).Error
	if err != nil {
		zlog.Sugar().Errorf("persisting state %s for vm %s: %v", e.rec.State, e.rec.Name, err)
	}
	return err
}

// Start boots a created or stopped VM, or resumes a paused one. The record
// sits in Starting for the duration of the boot (or resume) sequence.
func (r *Registry) Start(ctx context.Context, ref string) error {
	e, err := r.resolve(ref)
	if err != nil {
		return err
	}

	e.mu.Lock()
	prev := e.rec.State
	switch prev {
	case models.VMStatePaused:
		return r.resume(ctx, e) // resume releases the lock
	case models.VMStateCreated, models.VMStateStopped:
	default:
		name := e.rec.Name
		e.mu.Unlock()
		return &InvalidTransitionError{Name: name, Current: prev, Requested: "start"}
	}
	e.pendingExit = nil
	e.rec.State = models.VMStateStarting
	if err := r.saveState(e); err != nil {
		e.rec.State = prev
		name := e.rec.Name
		e.mu.Unlock()
		return errors.Wrapf(err, "starting vm %s", name)
	}
	rec := e.rec
	e.mu.Unlock()

	process, proxy, err := r.boot(ctx, rec)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil && e.pendingExit != nil {
		// the process died between boot completing and this commit
		err = errors.Errorf("vm %s exited during start: %v", rec.Name, e.pendingExit.Err)
		proxy.Close()
		process = nil
		proxy = nil
	}
	e.pendingExit = nil

	if err != nil {
		e.rec.State = prev
		r.saveState(e)
		return err
	}

	e.rec.State = models.VMStateRunning
	if err := r.saveState(e); err != nil {
		// an unrecorded running VM is a failed start, same as a rejected
		// configure step
		proxy.Close()
		r.sup.Terminate(ctx, process)
		e.rec.State = prev
		r.saveState(e)
		return errors.Wrapf(err, "starting vm %s", rec.Name)
	}
	e.process = process
	e.proxy = proxy
	zlog.Sugar().Infof("vm %s running, pid %d", rec.Name, process.PID())
	return nil
}

// resume drives Paused to Running through the control channel. The record
// passes through Starting so concurrent requests observe a transitional
// state instead of blocking on the entry lock. Called with the entry lock
// held; releases it.
func (r *Registry) resume(ctx context.Context, e *entry) error {
	e.pendingExit = nil
	e.rec.State = models.VMStateStarting
	if err := r.saveState(e); err != nil {
		e.rec.State = models.VMStatePaused
		name := e.rec.Name
		e.mu.Unlock()
		return errors.Wrapf(err, "resuming vm %s", name)
	}
	rec := e.rec
	e.mu.Unlock()

	resumeErr := r.sup.Resume(ctx, rec)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pendingExit != nil {
		// the process died out from under the resume
		exitErr := e.pendingExit.Err
		e.pendingExit = nil
		if e.proxy != nil {
			e.proxy.Close()
			e.proxy = nil
		}
		e.process = nil
		e.rec.State = models.VMStateStopped
		r.saveState(e)
		return errors.Errorf("vm %s exited during resume: %v", rec.Name, exitErr)
	}

	if resumeErr != nil {
		e.rec.State = models.VMStatePaused
		r.saveState(e)
		return errors.Wrapf(resumeErr, "resuming vm %s", rec.Name)
	}

	e.rec.State = models.VMStateRunning
	r.saveState(e)
	zlog.Sugar().Infof("vm %s resumed", rec.Name)
	return nil
}

// boot runs the spawn/configure/start/attach sequence. Any failure after the
// spawn tears the process down again so no orphan survives a failed start.
func (r *Registry) boot(ctx context.Context, rec models.VirtualMachine) (Process, io.Closer, error) {
	process, err := r.sup.Spawn(ctx, rec)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "starting vm %s", rec.Name)
	}

	if err := r.sup.Configure(ctx, rec); err != nil {
		r.sup.Terminate(ctx, process)
		return nil, nil, errors.Wrapf(err, "starting vm %s", rec.Name)
	}
	if err := r.sup.StartInstance(ctx, rec); err != nil {
		r.sup.Terminate(ctx, process)
		return nil, nil, errors.Wrapf(err, "starting vm %s", rec.Name)
	}

	proxy, err := r.consoles.Attach(rec, process.Console())
	if err != nil {
		r.sup.Terminate(ctx, process)
		return nil, nil, errors.Wrapf(err, "attaching console for vm %s", rec.Name)
	}

	return process, proxy, nil
}

// Stop gracefully shuts down a running VM. The console proxy is detached
// first so its log file is complete before the process goes away.
func (r *Registry) Stop(ctx context.Context, ref string) error {
	e, err := r.resolve(ref)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.rec.State != models.VMStateRunning {
		cur, name := e.rec.State, e.rec.Name
		e.mu.Unlock()
		return &InvalidTransitionError{Name: name, Current: cur, Requested: "stop"}
	}
	e.rec.State = models.VMStateStopping
	r.saveState(e)
	process, proxy := e.process, e.proxy
	rec := e.rec
	e.mu.Unlock()

	var errs error
	if proxy != nil {
		errs = multierr.Append(errs, proxy.Close())
	}
	errs = multierr.Append(errs, r.sup.Terminate(ctx, process))

	e.mu.Lock()
	defer e.mu.Unlock()
	e.process = nil
	e.proxy = nil
	e.pendingExit = nil
	e.rec.State = models.VMStateStopped
	r.saveState(e)

	if errs != nil {
		return errors.Wrapf(errs, "stopping vm %s", rec.Name)
	}
	zlog.Sugar().Infof("vm %s stopped", rec.Name)
	return nil
}

// Pause freezes a running VM's vCPUs. The process and console stay up.
func (r *Registry) Pause(ctx context.Context, ref string) error {
	e, err := r.resolve(ref)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.rec.State != models.VMStateRunning {
		cur, name := e.rec.State, e.rec.Name
		e.mu.Unlock()
		return &InvalidTransitionError{Name: name, Current: cur, Requested: "pause"}
	}
	e.rec.State = models.VMStatePausing
	r.saveState(e)
	rec := e.rec
	e.mu.Unlock()

	pauseErr := r.sup.Pause(ctx, rec)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pendingExit != nil {
		// the process died out from under the pause
		exitErr := e.pendingExit.Err
		e.pendingExit = nil
		if e.proxy != nil {
			e.proxy.Close()
			e.proxy = nil
		}
		e.process = nil
		e.rec.State = models.VMStateStopped
		r.saveState(e)
		return errors.Errorf("vm %s exited during pause: %v", rec.Name, exitErr)
	}

	if pauseErr != nil {
		e.rec.State = models.VMStateRunning
		r.saveState(e)
		return errors.Wrapf(pauseErr, "pausing vm %s", rec.Name)
	}

	e.rec.State = models.VMStatePaused
	r.saveState(e)
	zlog.Sugar().Infof("vm %s paused", rec.Name)
	return nil
}

// Delete removes a VM from the registry and the database. A live process is
// torn down first. The console log is deliberately left on disk.
func (r *Registry) Delete(ctx context.Context, ref string) error {
	e, err := r.resolve(ref)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.rec.State.Transitional() {
		cur, name := e.rec.State, e.rec.Name
		e.mu.Unlock()
		return &InvalidTransitionError{Name: name, Current: cur, Requested: "delete"}
	}
	e.rec.State = models.VMStateDeleting
	r.saveState(e)
	process, proxy := e.process, e.proxy
	rec := e.rec
	e.mu.Unlock()

	var errs error
	if proxy != nil {
		errs = multierr.Append(errs, proxy.Close())
	}
	if process != nil {
		errs = multierr.Append(errs, r.sup.Terminate(ctx, process))
	}
	if err := r.db.Delete(&models.VirtualMachine{}, "id = ?", rec.ID).Error; err != nil {
		errs = multierr.Append(errs, err)
	}

	r.mu.Lock()
	delete(r.byID, rec.ID)
	r.mu.Unlock()

	os.Remove(rec.SocketPath)
	os.Remove(rec.ConsoleSocketPath)

	if errs != nil {
		return errors.Wrapf(errs, "deleting vm %s", rec.Name)
	}
	zlog.Sugar().Infof("deleted vm %s (%s)", rec.Name, rec.ID)
	return nil
}

// ConsoleLog returns the VM's accumulated console output, in any state.
func (r *Registry) ConsoleLog(ref string) ([]byte, error) {
	e, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()
	return r.consoles.ReadLog(rec)
}

// ConsoleSocket returns the path of the VM's live console socket. It is only
// meaningful while a console proxy is attached.
func (r *Registry) ConsoleSocket(ref string) (string, error) {
	e, err := r.resolve(ref)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proxy == nil {
		return "", errors.Wrap(ErrConsoleUnavailable, e.rec.Name)
	}
	return e.rec.ConsoleSocketPath, nil
}

// WatchExits consumes the supervisor's crash reports until ctx is cancelled.
// Run it in its own goroutine for the life of the control plane.
func (r *Registry) WatchExits(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.sup.Exits():
			r.handleExit(ev)
		}
	}
}

func (r *Registry) handleExit(ev ExitEvent) {
	r.mu.Lock()
	e := r.byID[ev.VMID]
	r.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.rec.State {
	case models.VMStateStarting, models.VMStatePausing, models.VMStateStopping:
		// an operation is in flight, let its commit fold the exit in
		evCopy := ev
		e.pendingExit = &evCopy
	case models.VMStateRunning, models.VMStatePaused:
		zlog.Sugar().Warnf("vm %s process exited unexpectedly: %v", e.rec.Name, ev.Err)
		if e.proxy != nil {
			e.proxy.Close()
			e.proxy = nil
		}
		e.process = nil
		e.rec.State = models.VMStateStopped
		r.saveState(e)
	default:
		// already stopped or being deleted, nothing to fold in
	}
}

// Shutdown force-stops every VM with a live process. Called once when the
// control plane itself is going down; records stay in the database.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	var errs error
	for _, e := range entries {
		e.mu.Lock()
		if e.process == nil {
			e.mu.Unlock()
			continue
		}
		zlog.Sugar().Infof("shutting down vm %s", e.rec.Name)
		if e.proxy != nil {
			errs = multierr.Append(errs, e.proxy.Close())
			e.proxy = nil
		}
		errs = multierr.Append(errs, r.sup.Terminate(ctx, e.process))
		e.process = nil
		e.pendingExit = nil
		e.rec.State = models.VMStateStopped
		r.saveState(e)
		e.mu.Unlock()
	}
	return errs
}
