// Package backend is the read-side client for the platform REST API. Panel
// views are a thin reflection of server state; all business logic stays on
// the backend. Every call forwards the caller's credential so the backend
// applies its own tenant isolation on top of the gateway's.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mealdesk.org/internal/session"
	"mealdesk.org/internal/tenant"
)

var (
	ErrNotFound     = errors.New("backend: not found")
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrUnavailable  = errors.New("backend: unavailable")
)

// Company is the profile rendered on the general page.
type Company struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Type    tenant.Type `json:"type"`
	Address string      `json:"address,omitempty"`
}

// Employee is one roster entry.
type Employee struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// Offer is a published catering/supplier offer.
type Offer struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PriceMinor int64  `json:"price_minor"`
	Currency   string `json:"currency"`
}

// User is the individual profile rendered on the general page of the
// company-scoped route.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CompanyID string `json:"company_id"`
}

// InboxSummary is the unread-mail badge data.
type InboxSummary struct {
	Unread int `json:"unread"`
}

// Client talks to the platform API.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend: base URL is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{base: baseURL, http: &http.Client{Timeout: timeout}}, nil
}

func (c *Client) Company(ctx context.Context, cred session.Credential, id string) (Company, error) {
	var out Company
	err := c.get(ctx, cred, "/api/companies/"+url.PathEscape(id), &out)
	return out, err
}

func (c *Client) Employees(ctx context.Context, cred session.Credential, companyID string) ([]Employee, error) {
	var out []Employee
	err := c.get(ctx, cred, "/api/companies/"+url.PathEscape(companyID)+"/employees", &out)
	return out, err
}

func (c *Client) Offers(ctx context.Context, cred session.Credential, companyID string) ([]Offer, error) {
	var out []Offer
	err := c.get(ctx, cred, "/api/companies/"+url.PathEscape(companyID)+"/offers", &out)
	return out, err
}

func (c *Client) User(ctx context.Context, cred session.Credential, id string) (User, error) {
	var out User
	err := c.get(ctx, cred, "/api/users/"+url.PathEscape(id), &out)
	return out, err
}

func (c *Client) Inbox(ctx context.Context, cred session.Credential, userID string) (InboxSummary, error) {
	var out InboxSummary
	err := c.get(ctx, cred, "/api/users/"+url.PathEscape(userID)+"/inbox/summary", &out)
	return out, err
}

func (c *Client) get(ctx context.Context, cred session.Credential, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cred != "" {
		req.Header.Set("Authorization", "Bearer "+string(cred))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		// fallthrough to decode
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}
