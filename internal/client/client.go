// Package client provides an HTTP client for the rent-finder REST API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/evcraddock/rent-finder/internal/rental"
)

// APIError is an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server error: %s", http.StatusText(e.StatusCode))
}

// IsNotFound reports whether err is a 404 from the server. Missing sessions
// and sessions the caller may not join look the same.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether the server rejected the caller's identity.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// Client is an HTTP client for the rent-finder API.
type Client struct {
	baseURL string
	token   string
	http    *resty.Client
}

// New creates a new API client acting as the identity token belongs to.
// An empty token is allowed for IssueIdentity.
func New(baseURL, token string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	h := resty.New()
	h.SetBaseURL(baseURL)
	h.SetTimeout(30 * time.Second)
	h.SetHeader("Accept", "application/json")
	if token != "" {
		h.SetAuthToken(token)
	}
	return &Client{baseURL: baseURL, token: token, http: h}
}

// Identity is an identity as reported by the server.
type Identity struct {
	ID          string `json:"id"`
	Token       string `json:"token,omitempty"`
	Anonymous   bool   `json:"anonymous"`
	DisplayName string `json:"display_name,omitempty"`
}

// SessionResponse is the response from GET /api/sessions/{id}.
type SessionResponse struct {
	Session  *rental.Session      `json:"session"`
	Listings []rental.ListingView `json:"listings"`
	ShareURL string               `json:"share_url"`
}

// Snapshot is one frame of a session's live feed.
type Snapshot struct {
	Type     string               `json:"type"`
	Session  *rental.Session      `json:"session,omitempty"`
	Listings []rental.ListingView `json:"listings,omitempty"`
	Error    string               `json:"error,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

// IssueIdentity asks the server for a new anonymous identity.
func (c *Client) IssueIdentity(ctx context.Context) (*Identity, error) {
	var ident Identity
	if err := c.do(ctx, http.MethodPost, "/api/identity", nil, &ident); err != nil {
		return nil, err
	}
	return &ident, nil
}

// Identity returns the identity the client's token belongs to.
func (c *Client) Identity(ctx context.Context) (*Identity, error) {
	var ident Identity
	if err := c.do(ctx, http.MethodGet, "/api/identity", nil, &ident); err != nil {
		return nil, err
	}
	return &ident, nil
}

// CreateSession creates a session owned by the caller. An empty name lets
// the server pick the default. The write is applied asynchronously.
func (c *Client) CreateSession(ctx context.Context, name string) (string, error) {
	var resp idResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions", map[string]string{"name": name}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetSession returns a session with its listings, joining it first if the
// caller is not yet a member.
func (c *Client) GetSession(ctx context.Context, sid string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(sid), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RenameSession sets a session's name.
func (c *Client) RenameSession(ctx context.Context, sid, name string) error {
	return c.do(ctx, http.MethodPatch, sessionPath(sid), map[string]string{"name": name}, nil)
}

// AddListing adds a listing and returns its id.
func (c *Client) AddListing(ctx context.Context, sid string, in rental.ListingInput) (string, error) {
	var resp idResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(sid)+"/listings", in, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UpdateListing applies a partial edit to a listing.
func (c *Client) UpdateListing(ctx context.Context, sid, lid string, patch rental.ListingPatch) error {
	return c.do(ctx, http.MethodPatch, listingPath(sid, lid), patch, nil)
}

// DeleteListing removes a listing with its comments and votes.
func (c *Client) DeleteListing(ctx context.Context, sid, lid string) error {
	return c.do(ctx, http.MethodDelete, listingPath(sid, lid), nil, nil)
}

// ListComments returns a listing's comments, oldest first.
func (c *Client) ListComments(ctx context.Context, sid, lid string) ([]*rental.Comment, error) {
	var comments []*rental.Comment
	if err := c.do(ctx, http.MethodGet, listingPath(sid, lid)+"/comments", nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// AddComment posts a comment on a listing.
func (c *Client) AddComment(ctx context.Context, sid, lid, text string) error {
	return c.do(ctx, http.MethodPost, listingPath(sid, lid)+"/comments", map[string]string{"text": text}, nil)
}

// Vote toggles the caller's vote on a listing. value is 1 or -1.
func (c *Client) Vote(ctx context.Context, sid, lid string, value int) error {
	return c.do(ctx, http.MethodPost, listingPath(sid, lid)+"/vote", map[string]int{"value": value}, nil)
}

// Watch streams a session's live feed, calling fn with every snapshot until
// ctx is done or fn returns an error. It returns nil when ctx ends the feed.
func (c *Client) Watch(ctx context.Context, sid string, fn func(Snapshot) error) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 30 * time.Second,
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := dialer.DialContext(ctx, c.wsURL(sessionPath(sid)+"/live"), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeError(resp.StatusCode, json.NewDecoder(resp.Body))
		}
		return fmt.Errorf("connecting to live feed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var snap Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("reading live feed: %w", err)
		}
		if snap.Type == "error" {
			return &APIError{StatusCode: http.StatusNotFound, Message: snap.Error}
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}

// do sends a JSON request and decodes the response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return decodeError(resp.StatusCode(), json.NewDecoder(strings.NewReader(resp.String())))
	}
	return nil
}

func decodeError(code int, dec *json.Decoder) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if dec.Decode(&errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: code, Message: errResp.Error}
	}
	return &APIError{StatusCode: code}
}

func (c *Client) wsURL(path string) string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + path
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + path
	}
	return c.baseURL + path
}

func sessionPath(sid string) string {
	return "/api/sessions/" + sid
}

func listingPath(sid, lid string) string {
	return sessionPath(sid) + "/listings/" + lid
}
