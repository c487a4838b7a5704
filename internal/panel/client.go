// Package panel is a client for the Pterodactyl hosting panel REST API.
// Every failure is logged and returned as an error; the client never retries.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/metrics"
)

const (
	// pageSize is the per_page value used for listings.
	pageSize = 100

	// maxPages bounds pagination against a misbehaving panel.
	maxPages = 1000

	// DefaultTimeout is used when Config.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	accountLastName = "TelegramUser"
	accountLanguage = "ru"

	// ServerNamePrefix prefixes the names of provisioned servers.
	ServerNamePrefix = "server_"
)

// Client talks to the panel's application and client APIs.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewClient creates a panel client. m may be nil.
func NewClient(cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ClientAPIKey == "" {
		cfg.ClientAPIKey = cfg.APIKey
	}
	if cfg.NestID == 0 {
		cfg.NestID = 1
	}
	if cfg.EggID == 0 {
		cfg.EggID = 3
	}
	if cfg.NodeID == 0 {
		cfg.NodeID = 1
	}
	if cfg.Template.DockerImage == "" {
		cfg.Template = DefaultServerTemplate()
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    m,
		logger:     logger.With().Str("service", "panel").Logger(),
	}
}

// AccountExists reports whether a panel user has the given email or username.
// Both empty returns false without a request.
func (c *Client) AccountExists(ctx context.Context, email, username string) (bool, error) {
	if email == "" && username == "" {
		return false, nil
	}

	found := false
	err := paginate(ctx, c, "list_users", "/api/application/users", func(items []object[Account]) bool {
		for _, item := range items {
			if (email != "" && item.Attributes.Email == email) ||
				(username != "" && item.Attributes.Username == username) {
				found = true
				return false
			}
		}
		return true
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to check panel account existence")
		return false, err
	}

	return found, nil
}

// CreateAccount creates a panel user.
func (c *Client) CreateAccount(ctx context.Context, email, username, firstName, password string) (*Account, error) {
	req := createAccountRequest{
		Email:     email,
		Username:  username,
		FirstName: firstName,
		LastName:  accountLastName,
		Password:  password,
		RootAdmin: false,
		Language:  accountLanguage,
	}

	var resp object[Account]
	if err := c.do(ctx, "create_account", http.MethodPost, c.appURL("/api/application/users"), c.cfg.APIKey, req, &resp, http.StatusCreated); err != nil {
		return nil, err
	}

	if resp.Attributes.ID == 0 {
		c.logger.Error().Str("username", username).Msg("created panel account has no id")
		return nil, fmt.Errorf("%w: created account has no id", ErrInvalidResponse)
	}

	c.logger.Info().
		Int64("panel_user_id", resp.Attributes.ID).
		Str("username", username).
		Msg("panel account created")

	return &resp.Attributes, nil
}

// FindAvailableAllocation returns an allocation id for a new server.
// Allocations pre-bound to the egg win; otherwise the first unassigned
// allocation on the node is used.
func (c *Client) FindAvailableAllocation(ctx context.Context) (int64, error) {
	eggPath := fmt.Sprintf("/api/application/nests/%d/eggs/%d?include=allocations", c.cfg.NestID, c.cfg.EggID)

	var eggResp object[egg]
	if err := c.do(ctx, "get_egg", http.MethodGet, c.appURL(eggPath), c.cfg.APIKey, nil, &eggResp, http.StatusOK); err != nil {
		return 0, err
	}

	if bound := eggResp.Attributes.Relationships.Allocations.Data; len(bound) > 0 {
		return bound[0].Attributes.ID, nil
	}

	var allocationID int64
	nodePath := fmt.Sprintf("/api/application/nodes/%d/allocations", c.cfg.NodeID)
	err := paginate(ctx, c, "list_allocations", nodePath, func(items []object[Allocation]) bool {
		for _, item := range items {
			if !item.Attributes.Assigned {
				allocationID = item.Attributes.ID
				return false
			}
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	if allocationID == 0 {
		c.logger.Error().Int64("node_id", c.cfg.NodeID).Msg("no available allocation")
		return 0, ErrNoAllocation
	}

	return allocationID, nil
}

// CreateServer creates a server owned by panelUserID on the given allocation.
func (c *Client) CreateServer(ctx context.Context, panelUserID int64, name string, allocationID int64) (*ServerInfo, error) {
	tmpl := c.cfg.Template

	req := createServerRequest{
		Name:        name,
		User:        panelUserID,
		Nest:        c.cfg.NestID,
		Egg:         c.cfg.EggID,
		DockerImage: tmpl.DockerImage,
		Startup:     tmpl.Startup,
		Environment: tmpl.Environment,
		Limits: Limits{
			Memory: tmpl.Memory,
			Swap:   tmpl.Swap,
			Disk:   tmpl.Disk,
			IO:     tmpl.IO,
			CPU:    tmpl.CPU,
		},
		FeatureLimits: FeatureLimits{
			Databases: tmpl.Databases,
			Backups:   tmpl.Backups,
		},
	}
	req.Allocation.Default = allocationID

	var resp object[ServerInfo]
	if err := c.do(ctx, "create_server", http.MethodPost, c.appURL("/api/application/servers"), c.cfg.APIKey, req, &resp, http.StatusCreated); err != nil {
		return nil, err
	}

	c.logger.Info().
		Int64("panel_server_id", resp.Attributes.ID).
		Str("identifier", resp.Attributes.Identifier).
		Str("name", resp.Attributes.Name).
		Msg("panel server created")

	return &resp.Attributes, nil
}

// CreateServerWithCredentials creates the panel account and its server.
// The first failing step aborts the sequence; nothing is rolled back.
func (c *Client) CreateServerWithCredentials(ctx context.Context, creds domain.Credentials) (*ServerInfo, error) {
	exists, err := c.AccountExists(ctx, creds.Email, creds.Username)
	if err != nil {
		return nil, fmt.Errorf("check account: %w", err)
	}
	if exists {
		c.logger.Error().Str("username", creds.Username).Msg("panel account with this email or username already exists")
		return nil, fmt.Errorf("check account: %w", ErrAccountExists)
	}

	account, err := c.CreateAccount(ctx, creds.Email, creds.Username, creds.Username, creds.Password)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	allocationID, err := c.FindAvailableAllocation(ctx)
	if err != nil {
		return nil, fmt.Errorf("find allocation: %w", err)
	}

	server, err := c.CreateServer(ctx, account.ID, ServerNamePrefix+creds.Username, allocationID)
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}

	return server, nil
}

// GetServerInfo returns a server by numeric id.
// Any non-200 answer yields ErrServerNotFound.
func (c *Client) GetServerInfo(ctx context.Context, panelServerID int64) (*ServerInfo, error) {
	path := "/api/application/servers/" + strconv.FormatInt(panelServerID, 10)

	var resp object[ServerInfo]
	err := c.do(ctx, "get_server", http.MethodGet, c.appURL(path), c.cfg.APIKey, nil, &resp, http.StatusOK)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %w", ErrServerNotFound, apiErr)
		}
		return nil, err
	}

	return &resp.Attributes, nil
}

// ListServers returns every server on the panel.
func (c *Client) ListServers(ctx context.Context) ([]ServerInfo, error) {
	servers := make([]ServerInfo, 0)
	err := paginate(ctx, c, "list_servers", "/api/application/servers", func(items []object[ServerInfo]) bool {
		for _, item := range items {
			servers = append(servers, item.Attributes)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return servers, nil
}

// DeleteServer removes a server by numeric id.
func (c *Client) DeleteServer(ctx context.Context, panelServerID int64) error {
	path := "/api/application/servers/" + strconv.FormatInt(panelServerID, 10)

	err := c.do(ctx, "delete_server", http.MethodDelete, c.appURL(path), c.cfg.APIKey, nil, nil, http.StatusNoContent)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrServerNotFound, apiErr)
		}
		return err
	}

	c.logger.Info().Int64("panel_server_id", panelServerID).Msg("panel server deleted")
	return nil
}

// StartServer sends the start signal to a server by identifier.
func (c *Client) StartServer(ctx context.Context, identifier string) error {
	return c.power(ctx, identifier, SignalStart)
}

// StopServer sends the stop signal to a server by identifier.
func (c *Client) StopServer(ctx context.Context, identifier string) error {
	return c.power(ctx, identifier, SignalStop)
}

func (c *Client) power(ctx context.Context, identifier, signal string) error {
	path := "/api/client/servers/" + url.PathEscape(identifier) + "/power"

	err := c.do(ctx, "power_"+signal, http.MethodPost, c.appURL(path), c.cfg.ClientAPIKey, powerRequest{Signal: signal}, nil, http.StatusNoContent)
	if err != nil {
		return err
	}

	c.logger.Info().Str("identifier", identifier).Str("signal", signal).Msg("power signal sent")
	return nil
}

func (c *Client) appURL(path string) string {
	return c.cfg.BaseURL + path
}

// paginate walks a list endpoint page by page until visit returns false
// or the last page has been read.
func paginate[T any](ctx context.Context, c *Client, op, path string, visit func([]object[T]) bool) error {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	for page := 1; page <= maxPages; page++ {
		pageURL := fmt.Sprintf("%s%s%spage=%d&per_page=%d", c.cfg.BaseURL, path, sep, page, pageSize)

		var resp list[T]
		if err := c.do(ctx, op, http.MethodGet, pageURL, c.cfg.APIKey, nil, &resp, http.StatusOK); err != nil {
			return err
		}

		if !visit(resp.Data) || len(resp.Data) == 0 {
			return nil
		}
		if page >= resp.Meta.Pagination.TotalPages {
			return nil
		}
	}

	return nil
}

// do performs one request and decodes a successful body into out.
func (c *Client) do(ctx context.Context, op, method, target, token string, body, out any, want int) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, 0, start)
		c.logger.Error().Err(err).Str("operation", op).Msg("panel request failed")
		return fmt.Errorf("%s: %w: %v", op, ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	c.observe(op, resp.StatusCode, start)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error().Err(err).Str("operation", op).Int("status", resp.StatusCode).Msg("failed to read panel response")
		return fmt.Errorf("%s: %w: %v", op, ErrRequestFailed, err)
	}

	if resp.StatusCode != want {
		apiErr := &APIError{Operation: op, Status: resp.StatusCode, Body: truncate(respBody)}
		c.logger.Error().
			Str("operation", op).
			Int("status", resp.StatusCode).
			Str("body", apiErr.Body).
			Msg("unexpected panel response")
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		c.logger.Error().Err(err).Str("operation", op).Msg("failed to decode panel response")
		return fmt.Errorf("%s: %w: %v", op, ErrInvalidResponse, err)
	}

	return nil
}

func (c *Client) observe(op string, status int, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordPanelRequest(op, status, time.Since(start).Seconds())
	}
}
