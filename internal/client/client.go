// Package client is a thin client for the discoverd API.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"grimm.is/discoverd/internal/brand"
)

// DefaultPort is the port discoverd listens on by default.
const DefaultPort = "5050"

// Error is returned for responses with status 400 and above. The
// message is the response body verbatim.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// Status is the introspection status of a node.
type Status struct {
	Finished bool    `json:"finished"`
	Error    *string `json:"error"`
}

// IntrospectOptions are optional introspection parameters.
type IntrospectOptions struct {
	// NewIPMIPassword makes the ramdisk set this BMC password.
	NewIPMIPassword string
	// NewIPMIUsername sets the BMC user name along with the password.
	// Defaults to the one in driver_info.
	NewIPMIUsername string
}

// HTTPClient talks to one discoverd endpoint.
type HTTPClient struct {
	baseURL             string
	authToken           string
	httpClient          *http.Client
	expectedFingerprint string
	SeenFingerprint     string
}

// ClientOption configures the HTTPClient.
type ClientOption func(*HTTPClient)

// WithAuthToken sets the token sent as X-Auth-Token.
func WithAuthToken(token string) ClientOption {
	return func(c *HTTPClient) {
		c.authToken = token
	}
}

// WithFingerprint pins the server certificate by SHA-256 hex fingerprint.
// Without it, any certificate is accepted for https URLs.
func WithFingerprint(fp string) ClientOption {
	return func(c *HTTPClient) {
		c.expectedFingerprint = strings.ToLower(strings.ReplaceAll(fp, ":", ""))
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// NewHTTPClient creates a client. baseURL has the form
// http://host:port[/v1]; "/v1" is appended when missing. An empty
// baseURL means port 5050 on this host's first IPv4 address.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    normalizeURL(baseURL),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // verified by VerifyPeerCertificate
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 {
					return nil
				}
				hash := sha256.Sum256(rawCerts[0])
				fingerprint := hex.EncodeToString(hash[:])
				c.SeenFingerprint = fingerprint

				if c.expectedFingerprint != "" && c.expectedFingerprint != fingerprint {
					return fmt.Errorf("certificate fingerprint mismatch: expected %s, got %s", c.expectedFingerprint, fingerprint)
				}
				return nil
			},
		},
	}
	return c
}

// BaseURL returns the normalized API root.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Introspect starts introspection of a node.
func (c *HTTPClient) Introspect(ctx context.Context, nodeUUID string, opts IntrospectOptions) error {
	if err := validateUUID(nodeUUID); err != nil {
		return err
	}
	if opts.NewIPMIUsername != "" && opts.NewIPMIPassword == "" {
		return errors.New("setting IPMI user name requires a new password")
	}

	params := url.Values{}
	if opts.NewIPMIUsername != "" {
		params.Set("new_ipmi_username", opts.NewIPMIUsername)
	}
	if opts.NewIPMIPassword != "" {
		params.Set("new_ipmi_password", opts.NewIPMIPassword)
	}

	path := "/introspection/" + url.PathEscape(nodeUUID)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// GetStatus returns the introspection status of a node.
func (c *HTTPClient) GetStatus(ctx context.Context, nodeUUID string) (*Status, error) {
	if err := validateUUID(nodeUUID); err != nil {
		return nil, err
	}
	var st Status
	if err := c.doRequest(ctx, http.MethodGet, "/introspection/"+url.PathEscape(nodeUUID), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Discover starts introspection of several nodes.
//
// Deprecated: use Introspect.
func (c *HTTPClient) Discover(ctx context.Context, nodeUUIDs []string) error {
	for _, id := range nodeUUIDs {
		if err := validateUUID(id); err != nil {
			return err
		}
	}
	if nodeUUIDs == nil {
		nodeUUIDs = []string{}
	}
	return c.doRequest(ctx, http.MethodPost, "/discover", nodeUUIDs, nil)
}

// ContinueResult is the reply to a ramdisk report.
type ContinueResult struct {
	IPMISetupCredentials bool   `json:"ipmi_setup_credentials"`
	IPMIUsername         string `json:"ipmi_username"`
	IPMIPassword         string `json:"ipmi_password"`
}

// Continue posts a ramdisk report. report must marshal to a JSON object.
func (c *HTTPClient) Continue(ctx context.Context, report any) (*ContinueResult, error) {
	var res ContinueResult
	if err := c.doRequest(ctx, http.MethodPost, "/continue", report, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// doRequest performs an HTTP request and decodes the JSON response.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body any, result any) error {
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", brand.UserAgent(brand.Version))
	if c.authToken != "" {
		req.Header.Set("X-Auth-Token", c.authToken)
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

	if resp.StatusCode >= 400 {
		return &Error{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func validateUUID(s string) error {
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("expected a UUID, got %q", s)
	}
	return nil
}

func normalizeURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://" + net.JoinHostPort(localIPv4(), DefaultPort) + "/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(baseURL, "v1") {
		baseURL += "/v1"
	}
	return baseURL
}

// localIPv4 returns the first non-loopback IPv4 address of this host.
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					return ip4.String()
				}
			}
		}
	}
	return "127.0.0.1"
}
