package firecracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"gitlab.com/glidex/control-plane/models"
)

const requestTimeout = 30 * time.Second

// Client talks to one VM's Firecracker API socket. Every call uses a fresh
// short-lived connection, matching Firecracker's request/response model.
type Client struct {
	sockFile string
}

func NewClient(sockFile string) *Client {
	return &Client{sockFile: sockFile}
}

// APIError is a control call that Firecracker answered with a fault.
type APIError struct {
	Method       string
	Path         string
	StatusCode   int
	FaultMessage string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firecracker api: %s %s returned %d: %s",
		e.Method, e.Path, e.StatusCode, e.FaultMessage)
}

func (c *Client) httpClient() *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DisableKeepAlives: true,
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", c.sockFile)
			},
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) error {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("firecracker api: encoding %s body: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, bytes.NewBuffer(jsonBytes))
	if err != nil {
		return fmt.Errorf("firecracker api: building %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("firecracker api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
		payload, _ := io.ReadAll(resp.Body)
		var fault models.FirecrackerFault
		if json.Unmarshal(payload, &fault) == nil && fault.FaultMessage != "" {
			apiErr.FaultMessage = fault.FaultMessage
		} else {
			apiErr.FaultMessage = string(payload)
		}
		return apiErr
	}

	return nil
}

// PutMachineConfig sets vCPU count and memory size.
func (c *Client) PutMachineConfig(ctx context.Context, body interface{}) error {
	return c.do(ctx, http.MethodPut, "/machine-config", body)
}

// PutBootSource sets the kernel image and boot arguments.
func (c *Client) PutBootSource(ctx context.Context, body interface{}) error {
	return c.do(ctx, http.MethodPut, "/boot-source", body)
}

// PutDrive attaches a block device under the given drive ID.
func (c *Client) PutDrive(ctx context.Context, driveID string, body interface{}) error {
	return c.do(ctx, http.MethodPut, "/drives/"+driveID, body)
}

// CreateSyncAction fires an instance action such as InstanceStart or
// SendCtrlAltDel.
func (c *Client) CreateSyncAction(ctx context.Context, actionType string) error {
	return c.do(ctx, http.MethodPut, "/actions", models.InstanceAction{ActionType: actionType})
}

// PatchVMState pauses or resumes the instance; state is "Paused" or
// "Resumed".
func (c *Client) PatchVMState(ctx context.Context, state string) error {
	return c.do(ctx, http.MethodPatch, "/vm", models.VMStatePatch{State: state})
}
