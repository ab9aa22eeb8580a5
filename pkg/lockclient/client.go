package lockclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/n3tuk/document-node-lock/internal/model"
)

// Client talks to the lock service API.
type Client struct {
	baseURL string
	http    *http.Client
	auth    func(*http.Request)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBearerToken authenticates every request with token.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.auth = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
	}
}

// WithUserHeader sends userID in header, for services behind an
// authenticating proxy.
func WithUserHeader(header, userID string) Option {
	return func(c *Client) {
		c.auth = func(r *http.Request) { r.Header.Set(header, userID) }
	}
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire takes a lock on the resource, or refreshes it when the caller
// already holds it. A rejected acquire returns a *LockedError.
func (c *Client) Acquire(ctx context.Context, projectID string, rt ResourceType, resourceID string) (*Lock, error) {
	resp, err := c.do(ctx, http.MethodPost, "/locks", model.AcquireRequest{
		ProjectID:    projectID,
		ResourceType: rt,
		ResourceID:   resourceID,
	})
	if err != nil {
		return nil, err
	}
	return resp.Lock, nil
}

// Release drops a lock. Releasing a lock that no longer exists succeeds.
func (c *Client) Release(ctx context.Context, lockID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/locks/"+url.PathEscape(lockID), nil)
	return err
}

// Refresh restarts the expiry window of a lock the caller holds.
func (c *Client) Refresh(ctx context.Context, lockID string) (*Lock, error) {
	resp, err := c.do(ctx, http.MethodPost, "/locks/"+url.PathEscape(lockID)+"/refresh", nil)
	if err != nil {
		return nil, err
	}
	return resp.Lock, nil
}

// GetLock returns the active lock on the exact resource, or nil.
func (c *Client) GetLock(ctx context.Context, rt ResourceType, resourceID string) (*Lock, error) {
	resp, err := c.do(ctx, http.MethodGet, resourcePath(rt, resourceID, "lock"), nil)
	if err != nil {
		return nil, err
	}
	return resp.Lock, nil
}

// GetConflict returns the ancestor or descendant lock blocking the
// resource, or nil. Only document and node resources are accepted.
func (c *Client) GetConflict(ctx context.Context, rt ResourceType, resourceID string) (*Conflict, error) {
	var out model.ConflictResponse
	path := resourcePath(rt, resourceID, "conflict")
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Conflict, nil
}

// resourcePath escapes the resource id into one path segment, so node ids
// keep their '/'.
func resourcePath(rt ResourceType, resourceID, leaf string) string {
	return "/resources/" + url.PathEscape(string(rt)) + "/" + url.PathEscape(resourceID) + "/" + leaf
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*model.LockResponse, error) {
	var out model.LockResponse
	if err := c.doJSON(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// doJSON sends body as JSON and decodes a 200 response into out. Any other
// status becomes an error.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth(req)
	}

	rsp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if rsp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return responseError(method, path, rsp.StatusCode, raw)
}

// responseError turns an error envelope into a typed error.
func responseError(method, path string, status int, raw []byte) error {
	var resp model.LockResponse
	if err := json.Unmarshal(raw, &resp); err == nil {
		switch resp.Code {
		case model.CodeResourceLocked, model.CodeHierarchyConflict:
			return &LockedError{Conflict: resp.Conflict, Message: resp.Message}
		}
		if sentinel, ok := codeErrors[resp.Code]; ok {
			return &APIError{StatusCode: status, Code: resp.Code, Message: resp.Message, err: sentinel}
		}
	}
	return &UnexpectedStatusError{
		Method: method,
		Path:   path,
		Code:   status,
		Body:   strings.TrimSpace(string(raw)),
	}
}
