package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ngdi-portal/portal/internal/auth"
	"github.com/ngdi-portal/portal/internal/csrf"
)

// Client represents an HTTP client for the NGDI portal API
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	csrfToken  string
}

// New creates a new API client. The default HTTP client keeps cookies so the
// session and CSRF cookies the portal sets travel with later calls.
func New(baseURL string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// SetToken sets the bearer token sent with every request
func (c *Client) SetToken(token string) {
	c.token = token
}

// SetCSRFToken sets the anti-forgery token attached to mutating requests
func (c *Client) SetCSRFToken(token string) {
	c.csrfToken = token
}

// BaseURL returns the API root this client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends one request. Nothing is retried; a failure is returned once.
// Any 2xx is success; everything else becomes a typed error.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	opts := csrf.RequestOptions{
		Method: method,
		URL:    c.baseURL + path,
		Header: http.Header{},
	}
	opts.Header.Set("Accept", "application/json")

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		opts.Body = data
		opts.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		opts.Header.Set("Authorization", "Bearer "+c.token)
	}
	if csrf.Mutating(method) {
		opts = csrf.WithToken(opts, c.csrfToken)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, bytes.NewReader(opts.Body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = opts.Header

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// User mirrors the API's user detail
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// Login authenticates and, on success, uses the returned token for later calls
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// SetupRequest creates the first admin on an empty portal
type SetupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Setup creates the first admin account and signs in as it
func (c *Client) Setup(ctx context.Context, req SetupRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/setup", req, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// Logout revokes the current session on the server
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

// SessionInfo is the server's view of the caller's session
type SessionInfo struct {
	User       auth.AuthUser `json:"user"`
	ExpiresAt  time.Time     `json:"expires_at"`
	AuthMethod string        `json:"auth_method"`
}

// Session returns the current session, or nil when the server reports none
func (c *Client) Session(ctx context.Context) (*SessionInfo, error) {
	var info *SessionInfo
	if err := c.do(ctx, http.MethodGet, "/api/auth/session", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// Me returns the signed-in user's profile
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// HealthResponse represents the health endpoint body
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Health checks that the portal is up
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// BoundingBox is a geographic extent in decimal degrees
type BoundingBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// MetadataInput is the writable part of a metadata record
type MetadataInput struct {
	Title        string         `json:"title"`
	Abstract     string         `json:"abstract,omitempty"`
	Organization string         `json:"organization,omitempty"`
	Keywords     []string       `json:"keywords,omitempty"`
	BBox         *BoundingBox   `json:"bbox,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
}

// Metadata is a stored metadata record
type Metadata struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Abstract     string         `json:"abstract"`
	Organization string         `json:"organization"`
	Keywords     []string       `json:"keywords"`
	BBox         *BoundingBox   `json:"bbox,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
	CreatedByID  string         `json:"created_by_id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// MetadataPage is one page of a metadata listing
type MetadataPage struct {
	Items []Metadata `json:"items"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
	Total int64      `json:"total"`
}

// CreateMetadata creates a metadata record
func (c *Client) CreateMetadata(ctx context.Context, in MetadataInput) (*Metadata, error) {
	var record Metadata
	if err := c.do(ctx, http.MethodPost, "/api/metadata", in, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// GetMetadata reads a single metadata record
func (c *Client) GetMetadata(ctx context.Context, id string) (*Metadata, error) {
	var record Metadata
	if err := c.do(ctx, http.MethodGet, "/api/metadata/"+url.PathEscape(id), nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListMetadata lists records. Page and limit are passed through as given;
// zero leaves the choice to the server.
func (c *Client) ListMetadata(ctx context.Context, page, limit int) (*MetadataPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/metadata"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result MetadataPage
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateMetadata replaces the writable fields of a record
func (c *Client) UpdateMetadata(ctx context.Context, id string, in MetadataInput) (*Metadata, error) {
	var record Metadata
	if err := c.do(ctx, http.MethodPut, "/api/metadata/"+url.PathEscape(id), in, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteMetadata deletes a record
func (c *Client) DeleteMetadata(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/metadata/"+url.PathEscape(id), nil, nil)
}
