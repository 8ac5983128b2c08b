// Package remote imports project bundles into an annotation server through
// its project import API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/internal/logging"
)

// DefaultTimeout bounds one request when the client has no HTTP client.
const DefaultTimeout = 5 * time.Minute

// maxErrorBody limits how much of a failed response is kept in errors.
const maxErrorBody = 4096

// Client talks to the server's project API.
type Client struct {
	BaseURL  string
	Username string
	Password string
	HTTP     *http.Client
}

// Status is the server's answer to an import.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Body    string `json:"body,omitempty"`
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
}

// New returns a client for baseURL, e.g. http://host:8080/api/v1.
func New(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		HTTP:     &http.Client{Timeout: DefaultTimeout},
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func (c *Client) url(parts ...string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Join(parts, "/")
}

// ImportProject uploads the bundle at zipPath.
func (c *Client) ImportProject(ctx context.Context, zipPath string) (*Status, error) {
	data, err := os.ReadFile(zipPath)
	if err != nil {
		return nil, errors.NewIO("read", zipPath, err)
	}
	return c.ImportProjectData(ctx, filepath.Base(zipPath), data)
}

// ImportProjectData uploads bundle bytes as the multipart field "file".
func (c *Client) ImportProjectData(ctx context.Context, name string, data []byte) (*Status, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := c.url("projects", "import")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}
	logging.InfoContext(ctx, "project_imported",
		"project", name,
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Status{
		Code:    resp.StatusCode,
		Message: http.StatusText(resp.StatusCode),
		Body:    strings.TrimSpace(string(respBody)),
	}, nil
}

// ListProjects returns the server's project list as raw JSON objects.
func (c *Client) ListProjects(ctx context.Context) ([]map[string]any, error) {
	url := c.url("projects")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	_, body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var projects []map[string]any
	if err := json.Unmarshal(body, &projects); err == nil {
		return projects, nil
	}
	// Some servers wrap the list: {"messages": [...], "body": [...]}.
	var wrapped struct {
		Body []map[string]any `json:"body"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, &errors.ParseError{Format: "projects", Path: url, Message: err.Error()}
	}
	return wrapped.Body, nil
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%s %s", req.Method, req.URL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read response of %s %s", req.Method, req.URL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, nil, &StatusError{Method: req.Method, URL: req.URL.String(), Code: resp.StatusCode, Body: msg}
	}
	return resp, body, nil
}
