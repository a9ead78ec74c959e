// Package client is a Go client for the permissions API. The optimistic
// update coordinator drives its mutations through this surface, but it is
// usable standalone by any service that needs to read or change sharing
// state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docvault/api/internal/store"
	"docvault/api/internal/visibility"
)

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to one permissions API instance.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NewWithHTTPClient lets tests and callers inject their own transport.
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	c := New(baseURL)
	if httpClient != nil {
		c.http = httpClient
	}
	return c
}

// GetPermissions fetches the record for a document. Unknown documents come
// back as the server's lazy default, never as an error.
func (c *Client) GetPermissions(ctx context.Context, documentID string) (store.PermissionRecord, error) {
	var record store.PermissionRecord
	err := c.do(ctx, http.MethodGet, "/permissions/"+url.PathEscape(documentID), nil, &record)
	return record, err
}

// SetVisibility switches the sharing mode.
func (c *Client) SetVisibility(ctx context.Context, documentID, visibility, actorID string) (store.PermissionRecord, error) {
	body := map[string]any{"visibility": visibility, "actorId": actorID}
	var record store.PermissionRecord
	err := c.do(ctx, http.MethodPost, "/permissions/"+url.PathEscape(documentID)+"/visibility", body, &record)
	return record, err
}

// SetDomainRestrictions replaces the domain allow-list.
func (c *Client) SetDomainRestrictions(ctx context.Context, documentID string, domains []string, actorID string) (store.PermissionRecord, error) {
	body := map[string]any{"domains": domains, "actorId": actorID}
	var record store.PermissionRecord
	err := c.do(ctx, http.MethodPost, "/permissions/"+url.PathEscape(documentID)+"/domains", body, &record)
	return record, err
}

// SetAccountPermissions replaces the account allow-list.
func (c *Client) SetAccountPermissions(ctx context.Context, documentID string, accounts []store.AccountPermission, actorID string) (store.PermissionRecord, error) {
	body := map[string]any{"accounts": accounts, "actorId": actorID}
	var record store.PermissionRecord
	err := c.do(ctx, http.MethodPost, "/permissions/"+url.PathEscape(documentID)+"/accounts", body, &record)
	return record, err
}

// RemoveAccountPermission removes one allow-list entry.
func (c *Client) RemoveAccountPermission(ctx context.Context, documentID, accountID, actorID string) (store.PermissionRecord, error) {
	body := map[string]any{"actorId": actorID}
	path := "/permissions/" + url.PathEscape(documentID) + "/accounts/" + url.PathEscape(accountID)
	var record store.PermissionRecord
	err := c.do(ctx, http.MethodDelete, path, body, &record)
	return record, err
}

// ResolveAccess runs the access probe for a document on behalf of caller.
// The identity headers are forwarded the way the auth collaborator sets them.
func (c *Client) ResolveAccess(ctx context.Context, documentID string, headers http.Header) (visibility.Decision, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/documents/"+url.PathEscape(documentID)+"/access", nil)
	if err != nil {
		return visibility.Decision{}, fmt.Errorf("build request: %w", err)
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	var decision visibility.Decision
	if err := c.send(req, &decision); err != nil {
		return visibility.Decision{}, err
	}
	return decision, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, target)
}

func (c *Client) send(req *http.Request, target any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		return &APIError{Status: resp.StatusCode, Code: envelope.Code, Message: envelope.Error}
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
