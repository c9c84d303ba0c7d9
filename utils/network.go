// Package utils carries the small helpers shared between the CLI and the
// daemon, chiefly the client side of the control plane's own REST API.
package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gitlab.com/glidex/control-plane/internal/config"
)

// InternalAPIURL builds the URL of one of the control plane's own REST
// endpoints on the configured port.
func InternalAPIURL(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}
	return fmt.Sprintf("http://localhost:%d/api/v1%s", config.GetConfig().Rest.Port, endpoint), nil
}

// InternalWebsocketURL is InternalAPIURL for websocket endpoints.
func InternalWebsocketURL(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}
	return fmt.Sprintf("ws://localhost:%d/api/v1%s", config.GetConfig().Rest.Port, endpoint), nil
}

// MakeInternalRequest calls the control plane's own REST API and returns the
// response body. Non-2xx responses are turned into errors carrying the
// server's error message.
func MakeInternalRequest(method, endpoint string, body []byte) ([]byte, error) {
	url, err := InternalAPIURL(endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(method, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	client := http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach the control plane, is it running? (%v)", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: %s", method, endpoint, serverError(respBody, resp.StatusCode))
	}
	return respBody, nil
}

func serverError(body []byte, status int) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return fmt.Sprintf("unexpected status %d", status)
}
