package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/glidex/control-plane/db"
	"gitlab.com/glidex/control-plane/models"
	"gitlab.com/glidex/control-plane/vm"
)

type stubProcess struct{}

func (stubProcess) PID() int          { return 4242 }
func (stubProcess) Console() *os.File { return nil }

// stubSupervisor approves every lifecycle call without any real process.
type stubSupervisor struct {
	exits chan vm.ExitEvent
}

func (s *stubSupervisor) Spawn(ctx context.Context, rec models.VirtualMachine) (vm.Process, error) {
	return stubProcess{}, nil
}
func (s *stubSupervisor) Configure(ctx context.Context, rec models.VirtualMachine) error     { return nil }
func (s *stubSupervisor) StartInstance(ctx context.Context, rec models.VirtualMachine) error { return nil }
func (s *stubSupervisor) Pause(ctx context.Context, rec models.VirtualMachine) error         { return nil }
func (s *stubSupervisor) Resume(ctx context.Context, rec models.VirtualMachine) error        { return nil }
func (s *stubSupervisor) Terminate(ctx context.Context, p vm.Process) error                  { return nil }
func (s *stubSupervisor) Exits() <-chan vm.ExitEvent                                         { return s.exits }

// stubConsoles backs each attach with a real echo server on the VM's console
// socket so the websocket bridge can be exercised end to end.
type stubConsoles struct {
	log []byte
}

type stubProxy struct {
	listener net.Listener
	sockPath string
}

func (c *stubConsoles) Attach(rec models.VirtualMachine, console *os.File) (io.Closer, error) {
	listener, err := net.Listen("unix", rec.ConsoleSocketPath)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				conn.Write([]byte("console ready\n"))
				io.Copy(conn, conn)
			}(conn)
		}
	}()
	return &stubProxy{listener: listener, sockPath: rec.ConsoleSocketPath}, nil
}

func (p *stubProxy) Close() error {
	err := p.listener.Close()
	os.Remove(p.sockPath)
	return err
}

func (c *stubConsoles) ReadLog(rec models.VirtualMachine) ([]byte, error) {
	return c.log, nil
}

// shortTempDir keeps the registry's data dir (and so the console socket
// paths under it) within the 108-byte unix sun_path limit, which
// t.TempDir's test-name-derived paths can exceed.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "api")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func setupTestAPI(t *testing.T) (*gin.Engine, *vm.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.ConnectTestDatabase()
	require.NoError(t, err)

	registry := vm.NewRegistry(database,
		&stubSupervisor{exits: make(chan vm.ExitEvent, 1)},
		&stubConsoles{log: []byte("boot log line\n")},
		shortTempDir(t))
	return SetupRouter(registry), registry
}

func bootImage(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	kernel := filepath.Join(dir, "vmlinux")
	rootfs := filepath.Join(dir, "rootfs.ext4")
	require.NoError(t, os.WriteFile(kernel, []byte{0x7f}, 0o644))
	require.NoError(t, os.WriteFile(rootfs, []byte{0x00}, 0o644))
	return kernel, rootfs
}

func createBody(t *testing.T, name string) []byte {
	t.Helper()
	kernel, rootfs := bootImage(t)
	body, err := json.Marshal(map[string]interface{}{
		"name":              name,
		"vcpu_count":        1,
		"mem_size_mib":      256,
		"kernel_image_path": kernel,
		"rootfs_path":       rootfs,
	})
	require.NoError(t, err)
	return body
}

func doRequest(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

func TestCreateListGetDelete(t *testing.T) {
	router, _ := setupTestAPI(t)

	w := doRequest(router, "POST", "/api/v1/vm", createBody(t, "api-vm"))
	require.Equal(t, 201, w.Code, w.Body.String())

	var created models.VirtualMachine
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "api-vm", created.Name)
	assert.Equal(t, models.VMStateCreated, created.State)

	w = doRequest(router, "GET", "/api/v1/vm", nil)
	require.Equal(t, 200, w.Code)
	var listed []models.VirtualMachine
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	w = doRequest(router, "GET", "/api/v1/vm/"+created.ID, nil)
	require.Equal(t, 200, w.Code)
	w = doRequest(router, "GET", "/api/v1/vm/api-vm", nil)
	require.Equal(t, 200, w.Code)

	w = doRequest(router, "DELETE", "/api/v1/vm/"+created.ID, nil)
	require.Equal(t, 200, w.Code)
	w = doRequest(router, "GET", "/api/v1/vm/"+created.ID, nil)
	require.Equal(t, 404, w.Code)
}

func TestCreateRejectsBadConfig(t *testing.T) {
	router, _ := setupTestAPI(t)

	body, err := json.Marshal(map[string]interface{}{
		"name":              "broken",
		"vcpu_count":        0,
		"mem_size_mib":      256,
		"kernel_image_path": "/no/such/kernel",
		"rootfs_path":       "/no/such/rootfs",
	})
	require.NoError(t, err)

	w := doRequest(router, "POST", "/api/v1/vm", body)
	require.Equal(t, 400, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestCreateDuplicateNameConflicts(t *testing.T) {
	router, _ := setupTestAPI(t)

	w := doRequest(router, "POST", "/api/v1/vm", createBody(t, "twin"))
	require.Equal(t, 201, w.Code)
	w = doRequest(router, "POST", "/api/v1/vm", createBody(t, "twin"))
	require.Equal(t, 409, w.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	router, _ := setupTestAPI(t)

	w := doRequest(router, "POST", "/api/v1/vm", createBody(t, "cycle"))
	require.Equal(t, 201, w.Code)

	// stop before start violates the state machine
	w = doRequest(router, "POST", "/api/v1/vm/cycle/stop", nil)
	require.Equal(t, 409, w.Code)

	w = doRequest(router, "POST", "/api/v1/vm/cycle/start", nil)
	require.Equal(t, 200, w.Code, w.Body.String())

	w = doRequest(router, "POST", "/api/v1/vm/cycle/start", nil)
	require.Equal(t, 409, w.Code)

	w = doRequest(router, "POST", "/api/v1/vm/cycle/pause", nil)
	require.Equal(t, 200, w.Code)

	// start resumes a paused VM
	w = doRequest(router, "POST", "/api/v1/vm/cycle/start", nil)
	require.Equal(t, 200, w.Code)

	w = doRequest(router, "POST", "/api/v1/vm/cycle/stop", nil)
	require.Equal(t, 200, w.Code)

	w = doRequest(router, "POST", "/api/v1/vm/missing/start", nil)
	require.Equal(t, 404, w.Code)
}

func TestLogEndpoint(t *testing.T) {
	router, _ := setupTestAPI(t)

	w := doRequest(router, "POST", "/api/v1/vm", createBody(t, "logger"))
	require.Equal(t, 201, w.Code)

	w = doRequest(router, "GET", "/api/v1/vm/logger/log", nil)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "boot log line\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")

	w = doRequest(router, "GET", "/api/v1/vm/missing/log", nil)
	require.Equal(t, 404, w.Code)
}

func TestConsoleWebsocketBridge(t *testing.T) {
	router, _ := setupTestAPI(t)

	server := httptest.NewServer(router)
	defer server.Close()

	w := doRequest(router, "POST", "/api/v1/vm", createBody(t, "terminal"))
	require.Equal(t, 201, w.Code)

	// not running yet
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/vm/terminal/console"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Equal(t, 409, resp.StatusCode)

	w = doRequest(router, "POST", "/api/v1/vm/terminal/start", nil)
	require.Equal(t, 200, w.Code, w.Body.String())

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	_, greeting, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "console ready\n", string(greeting))

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("uname -a\n")))
	_, echoed, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "uname -a\n", string(echoed))
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupTestAPI(t)
	w := doRequest(router, "GET", "/api/v1/health", nil)
	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestStatusForUnknownError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}
