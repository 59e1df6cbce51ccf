// Package master provides a client for the remote registry/master
// server that tracks deployments and auxiliary services across hosts.
package master

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/berthd/berth/internal/core/domain"
)

// Client provides methods for interacting with the master server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Config holds master client configuration.
type Config struct {
	BaseURL string // master server base URL, e.g. "http://master.internal:7842"
	APIKey  string // optional API key for authentication
	Timeout time.Duration
}

// NewClient creates a new master server client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// =============================================================================
// Request/Response Types
// =============================================================================

// Registration is the deployment record reported to the master server.
type Registration struct {
	Domain       string `json:"domain"`
	DeploymentID string `json:"deploymentId"`
	Repo         string `json:"repo"`
}

// serviceResponse is the master's answer for a service lookup.
type serviceResponse struct {
	Name         string `json:"name"`
	RootPassword string `json:"rootPassword"`
}

// ServiceInfo describes a deployed auxiliary service.
type ServiceInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// =============================================================================
// Operations
// =============================================================================

// RegisterDeployment notifies the master of a new or updated
// deployment. Callers downgrade failures to a warning: by the time this
// runs the container is already live.
func (c *Client) RegisterDeployment(ctx context.Context, reg Registration) error {
	if err := c.post(ctx, "/deployments/register", reg, nil); err != nil {
		return fmt.Errorf("register deployment %s: %w", reg.Domain, err)
	}
	c.logger.Info("registered deployment with master",
		"domain", reg.Domain,
		"deployment_id", reg.DeploymentID,
	)
	return nil
}

// GetOrCreateService asks the master for an auxiliary service, creating
// it if it does not exist, and returns its binding with the generated
// root credential.
func (c *Client) GetOrCreateService(ctx context.Context, name string) (domain.ServiceBinding, error) {
	var resp serviceResponse
	if err := c.post(ctx, "/services/getOrCreate", map[string]string{"name": name}, &resp); err != nil {
		return domain.ServiceBinding{}, fmt.Errorf("get or create service %s: %w", name, err)
	}
	return domain.ServiceBinding{
		Name:         resp.Name,
		RootPassword: resp.RootPassword,
	}, nil
}

// GetServiceInfo queries the master for an auxiliary service's status.
func (c *Client) GetServiceInfo(ctx context.Context, name string) (*ServiceInfo, error) {
	endpoint := c.baseURL + "/services/info?name=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var info ServiceInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &info, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
