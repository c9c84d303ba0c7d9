package console

import (
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"gitlab.com/glidex/control-plane/models"
)

const pumpBufferSize = 4096

// Manager creates console proxies and serves console logs. It satisfies the
// registry's console dependency.
type Manager struct {
	fs afero.Fs
}

func NewManager(fs afero.Fs) *Manager {
	return &Manager{fs: fs}
}

// Attach wires a VM's PTY to its log file and console socket. The returned
// closer tears the proxy down; the log file survives it.
func (m *Manager) Attach(rec models.VirtualMachine, console *os.File) (io.Closer, error) {
	return newProxy(m.fs, rec, console)
}

// ReadLog returns the accumulated console output. A VM that never started
// has no log file yet, which reads as empty rather than as an error.
func (m *Manager) ReadLog(rec models.VirtualMachine) ([]byte, error) {
	content, err := afero.ReadFile(m.fs, rec.LogPath)
	if os.IsNotExist(err) {
		return []byte{}, nil
	}
	return content, err
}

// Proxy owns one VM's console plumbing: a pump draining the PTY into the log
// file and the broadcast set, and an accept loop admitting clients on the
// per-VM console socket.
type Proxy struct {
	vmID     string
	console  *os.File
	logFile  afero.File
	listener net.Listener
	clients  *Broadcast
	fs       afero.Fs
	logPath  string
	sockPath string

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// dupNonblocking reopens the PTY master through the runtime poller. The fd
// handed over by the supervisor is blocking, and a blocking read on an idle
// console would pin the pump goroutine past Close; a poller-registered fd
// gets its pending read interrupted when the file is closed.
func dupNonblocking(console *os.File) (*os.File, error) {
	fd, err := syscall.Dup(int(console.Fd()))
	if err != nil {
		return nil, err
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return os.NewFile(uintptr(fd), console.Name()), nil
}

func newProxy(fs afero.Fs, rec models.VirtualMachine, console *os.File) (*Proxy, error) {
	master, err := dupNonblocking(console)
	if err != nil {
		return nil, err
	}

	// append across restarts, the log is the VM's full console history
	logFile, err := fs.OpenFile(rec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		master.Close()
		return nil, err
	}

	os.Remove(rec.ConsoleSocketPath)
	listener, err := net.Listen("unix", rec.ConsoleSocketPath)
	if err != nil {
		master.Close()
		logFile.Close()
		return nil, err
	}

	p := &Proxy{
		vmID:     rec.ID,
		console:  master,
		logFile:  logFile,
		listener: listener,
		clients:  NewBroadcast(),
		fs:       fs,
		logPath:  rec.LogPath,
		sockPath: rec.ConsoleSocketPath,
		closed:   make(chan struct{}),
	}

	p.wg.Add(2)
	go p.pump()
	go p.accept()

	zlog.Sugar().Infof("console proxy for VM %s listening on %s", p.vmID, p.sockPath)
	return p, nil
}

// pump is the single reader of the PTY. Every chunk is appended to the log
// before being fanned out, so the log never misses output a client saw.
func (p *Proxy) pump() {
	defer p.wg.Done()

	buf := make([]byte, pumpBufferSize)
	for {
		n, err := p.console.Read(buf)
		if n > 0 {
			if _, werr := p.logFile.Write(buf[:n]); werr != nil {
				zlog.Sugar().Errorf("console log write for VM %s failed: %v", p.vmID, werr)
			} else {
				p.logFile.Sync()
			}
			p.clients.Publish(buf[:n])
		}
		if err != nil {
			// EIO when the guest side goes away, ErrClosed after Close
			select {
			case <-p.closed:
			default:
				zlog.Sugar().Debugf("console pump for VM %s stopped: %v", p.vmID, err)
			}
			return
		}
	}
}

func (p *Proxy) accept() {
	defer p.wg.Done()

	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		p.replayLog(conn)
		p.clients.Add(conn)
		p.wg.Add(1)
		go p.forwardInput(conn)
	}
}

// replayLog sends the console history so a late attacher has context, the
// way a serial terminal scrollback would.
func (p *Proxy) replayLog(conn net.Conn) {
	content, err := afero.ReadFile(p.fs, p.logPath)
	if err != nil || len(content) == 0 {
		return
	}
	if _, err := conn.Write(content); err != nil {
		zlog.Sugar().Debugf("console log replay for VM %s failed: %v", p.vmID, err)
	}
}

// forwardInput relays one client's keystrokes to the guest. Input from
// concurrent clients interleaves in arrival order, there is no arbitration
// between typists.
func (p *Proxy) forwardInput(conn net.Conn) {
	defer p.wg.Done()
	defer p.clients.Remove(conn)

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := p.console.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Close tears down the socket, the proxy's PTY handle, and every client,
// then waits for all proxy goroutines. The log file is closed but kept on
// disk.
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)

		var errs error
		errs = multierr.Append(errs, p.listener.Close())
		errs = multierr.Append(errs, p.console.Close())
		p.clients.CloseAll()
		p.wg.Wait()
		errs = multierr.Append(errs, p.logFile.Close())
		if err := os.Remove(p.sockPath); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, err)
		}

		p.closeErr = errs
		zlog.Sugar().Infof("console proxy for VM %s closed", p.vmID)
	})
	return p.closeErr
}
