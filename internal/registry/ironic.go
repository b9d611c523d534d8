package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"grimm.is/discoverd/internal/brand"
)

// HTTPError is a non-2xx response from the registry API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("registry error (status %d): %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Ironic talks to the node registry REST API. It implements every View
// method except ListActiveNodes, which Service supplies.
type Ironic struct {
	baseURL    string
	token      string
	apiVersion string
	httpClient *http.Client
}

// IronicOption configures an Ironic client.
type IronicOption func(*Ironic)

// WithAuthToken sets the X-Auth-Token header.
func WithAuthToken(token string) IronicOption {
	return func(c *Ironic) {
		c.token = token
	}
}

// WithAPIVersion pins the microversion sent on every request.
func WithAPIVersion(v string) IronicOption {
	return func(c *Ironic) {
		c.apiVersion = v
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) IronicOption {
	return func(c *Ironic) {
		c.httpClient = hc
	}
}

// NewIronic creates a client for the registry at baseURL.
func NewIronic(baseURL string, opts ...IronicOption) *Ironic {
	c := &Ironic{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type portList struct {
	Ports []Port `json:"ports"`
	Next  string `json:"next,omitempty"`
}

// GetNode fetches a node by UUID.
func (c *Ironic) GetNode(ctx context.Context, uuid string) (Node, error) {
	var node Node
	err := c.doRequest(ctx, http.MethodGet, "/v1/nodes/"+url.PathEscape(uuid), nil, &node)
	return node, err
}

// PatchNode applies patch to a node.
func (c *Ironic) PatchNode(ctx context.Context, uuid string, patch Patch) (Node, error) {
	var node Node
	err := c.doRequest(ctx, http.MethodPatch, "/v1/nodes/"+url.PathEscape(uuid), patch, &node)
	return node, err
}

// ListPorts lists every port of a node, following pagination.
func (c *Ironic) ListPorts(ctx context.Context, nodeUUID string) ([]Port, error) {
	q := url.Values{"node_uuid": {nodeUUID}, "limit": {"0"}}
	return c.listPorts(ctx, "/v1/ports?"+q.Encode())
}

// ListAllPorts lists every port in the registry.
func (c *Ironic) ListAllPorts(ctx context.Context) ([]Port, error) {
	return c.listPorts(ctx, "/v1/ports?limit=0")
}

func (c *Ironic) listPorts(ctx context.Context, path string) ([]Port, error) {
	var all []Port
	for path != "" {
		var page portList
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Ports...)

		path = ""
		if page.Next != "" {
			next, err := url.Parse(page.Next)
			if err != nil {
				return nil, fmt.Errorf("invalid next link %q: %w", page.Next, err)
			}
			path = next.RequestURI()
		}
	}
	return all, nil
}

// DeletePort removes a port.
func (c *Ironic) DeletePort(ctx context.Context, portUUID string) error {
	return c.doRequest(ctx, http.MethodDelete, "/v1/ports/"+url.PathEscape(portUUID), nil, nil)
}

// PatchPort applies patch to a port.
func (c *Ironic) PatchPort(ctx context.Context, portUUID string, patch Patch) (Port, error) {
	var port Port
	err := c.doRequest(ctx, http.MethodPatch, "/v1/ports/"+url.PathEscape(portUUID), patch, &port)
	return port, err
}

// CreatePort attaches a port with address to a node. A port that already
// exists yields an error wrapping ErrConflict.
func (c *Ironic) CreatePort(ctx context.Context, nodeUUID, address string) (Port, error) {
	var port Port
	body := map[string]string{"node_uuid": nodeUUID, "address": address}
	err := c.doRequest(ctx, http.MethodPost, "/v1/ports", body, &port)
	return port, err
}

// SetBootDevice sets the next boot device (non persistent).
func (c *Ironic) SetBootDevice(ctx context.Context, nodeUUID, device string) error {
	body := map[string]any{"boot_device": device, "persistent": false}
	return c.doRequest(ctx, http.MethodPut, "/v1/nodes/"+url.PathEscape(nodeUUID)+"/management/boot_device", body, nil)
}

// Power state targets and boot devices understood by the registry.
const (
	PowerOn       = "power on"
	PowerOff      = "power off"
	PowerReboot   = "rebooting"
	BootDevicePXE = "pxe"
)

// SetPowerState requests a power transition such as PowerReboot.
func (c *Ironic) SetPowerState(ctx context.Context, nodeUUID, target string) error {
	body := map[string]string{"target": target}
	return c.doRequest(ctx, http.MethodPut, "/v1/nodes/"+url.PathEscape(nodeUUID)+"/states/power", body, nil)
}

// doRequest performs an HTTP request and decodes the JSON response.
func (c *Ironic) doRequest(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", brand.UserAgent(brand.Version))
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}
	if c.apiVersion != "" {
		req.Header.Set("X-OpenStack-Ironic-API-Version", c.apiVersion)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// errorMessage unwraps the registry's {"error_message": "..."} envelope,
// whose value is itself JSON with a faultstring.
func errorMessage(body []byte) string {
	var envelope struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.ErrorMessage == "" {
		return strings.TrimSpace(string(body))
	}

	var fault struct {
		Faultstring string `json:"faultstring"`
	}
	if err := json.Unmarshal([]byte(envelope.ErrorMessage), &fault); err == nil && fault.Faultstring != "" {
		return fault.Faultstring
	}
	return envelope.ErrorMessage
}

// IsConflict reports whether err is a registry conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
