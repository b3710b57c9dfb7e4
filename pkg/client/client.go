// Package client is a thin CLI-facing client for a running kestrel
// process, modeled on the teacher's pkg/client usage pattern
// (client.NewClient(addr) -> one method per operation -> Close). It
// talks to the HTTP gateway rather than the RPC gateway: a plain
// net/http.Client needs no certificate bootstrapping to issue the
// handful of requests a CLI session makes, where the RPC gateway's
// mTLS handshake is built for long-lived service-to-service calls.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/kestrel/pkg/types"
)

// Client issues HTTP requests against a kestrel gateway on behalf of
// tenant.
type Client struct {
	addr   string
	tenant string
	http   *http.Client
}

// New constructs a Client addressing the gateway at addr (e.g.
// "http://127.0.0.1:8080") on behalf of tenant.
func New(addr, tenant string) *Client {
	return &Client{
		addr:   strings.TrimRight(addr, "/"),
		tenant: tenant,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError mirrors the gateway's error_code/message/timestamp body.
type apiError struct {
	ErrorCode string    `json:"error_code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Tenant-Id", c.tenant)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if decErr := json.NewDecoder(resp.Body).Decode(&apiErr); decErr == nil && apiErr.ErrorCode != "" {
			return &apiErr
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Deploy submits name/code/format as a new service.
func (c *Client) Deploy(ctx context.Context, name, code, format string) error {
	body := map[string]string{"name": name, "code": code, "format": format}
	return c.do(ctx, http.MethodPost, "/v1/services", body, nil)
}

// Status fetches the point-in-time status of a running service.
func (c *Client) Status(ctx context.Context, name string) (types.WorkerStatus, error) {
	var status types.WorkerStatus
	err := c.do(ctx, http.MethodGet, "/v1/services/"+name, nil, &status)
	return status, err
}

// Kill stops and unregisters a running service.
func (c *Client) Kill(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/services/"+name, nil, nil)
}

// List returns every service ref registered for the client's tenant.
func (c *Client) List(ctx context.Context) ([]types.ServiceRef, error) {
	var refs []types.ServiceRef
	err := c.do(ctx, http.MethodGet, "/v1/services", nil, &refs)
	return refs, err
}

// SetSecret stores value under name, encrypted with masterKey.
func (c *Client) SetSecret(ctx context.Context, name, value string, masterKey []byte) error {
	body := map[string]string{"value": value, "master_key": hex.EncodeToString(masterKey)}
	return c.do(ctx, http.MethodPut, "/v1/secrets/"+name, body, nil)
}

// GetSecret retrieves and decrypts the secret stored under name.
func (c *Client) GetSecret(ctx context.Context, name string, masterKey []byte) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	path := "/v1/secrets/" + name + "?master_key=" + hex.EncodeToString(masterKey)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Value, err
}

// DeleteSecret removes the secret stored under name.
func (c *Client) DeleteSecret(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/secrets/"+name, nil, nil)
}

// ListSecrets returns the names of every secret stored for the
// client's tenant.
func (c *Client) ListSecrets(ctx context.Context) ([]string, error) {
	var names []string
	err := c.do(ctx, http.MethodGet, "/v1/secrets", nil, &names)
	return names, err
}

// Health reports a coarse liveness signal for each core subsystem.
func (c *Client) Health(ctx context.Context) (map[string]bool, error) {
	var health map[string]bool
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, &health)
	return health, err
}

// WatchEvents streams events over SSE, invoking onEvent for each
// decoded line until ctx is canceled or the connection closes.
func (c *Client) WatchEvents(ctx context.Context, subject string, onEvent func(*types.Event)) error {
	path := "/v1/events"
	if subject != "" {
		path += "?subject=" + subject
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Tenant-Id", c.tenant)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("watch events failed with status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event types.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		onEvent(&event)
	}
	return scanner.Err()
}
