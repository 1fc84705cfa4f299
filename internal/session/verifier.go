// Package session binds identities claimed by a URL to the caller's actual
// authenticated session. The check runs on the trusted backend; this package
// only forwards the caller's credential and interprets the verdict.
//
// Everything here is fail-closed: a verifier that cannot be reached, times
// out, or answers ambiguously denies.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mealdesk.org/internal/obs"
)

var (
	// ErrMismatch indicates the backend rejected the claimed identity for
	// the presented credential.
	ErrMismatch = errors.New("session: identity mismatch")
	// ErrNoCredential indicates the request carried nothing to authenticate
	// the caller with.
	ErrNoCredential = errors.New("session: no credential")
)

// CookieName is the session cookie the browser carries between requests.
const CookieName = "mealdesk_session"

// Credential is an opaque reference to a backend-held session. The gateway
// never inspects it; it is forwarded verbatim.
type Credential string

// CredentialFromRequest extracts the caller's session reference from the
// Authorization header or, failing that, the session cookie. Nothing in the
// URL is ever treated as a credential.
func CredentialFromRequest(r *http.Request) (Credential, error) {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) != "" {
			return Credential(strings.TrimSpace(parts[1])), nil
		}
		return "", ErrNoCredential
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return Credential(c.Value), nil
	}
	return "", ErrNoCredential
}

// Verifier confirms a (companyID, userID) claim against the caller's session.
type Verifier interface {
	Verify(ctx context.Context, cred Credential, companyID, userID string) error
}

const (
	verifyPath     = "/api/auth/verify-session"
	defaultTimeout = 5 * time.Second
)

// Client is the HTTP Verifier implementation.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("session: backend base URL is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: timeout},
	}, nil
}

type verifyRequest struct {
	CompanyID string `json:"companyId"`
	UserID    string `json:"userId"`
}

// Verify returns nil only when the backend confirms the claimed identifiers
// belong to the session behind cred. 401/403 map to ErrMismatch; every other
// failure (network error, timeout, 5xx) is returned as-is so callers can log
// the cause, but all of them mean "deny".
func (c *Client) Verify(ctx context.Context, cred Credential, companyID, userID string) (err error) {
	if cred == "" {
		return ErrNoCredential
	}
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		obs.ObserveBackendCall("verify", outcome, time.Since(start))
	}()
	if companyID == "" || userID == "" {
		return fmt.Errorf("session: verify requires both identifiers: %w", ErrMismatch)
	}

	body, err := json.Marshal(verifyRequest{CompanyID: companyID, UserID: userID})
	if err != nil {
		return fmt.Errorf("session: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+verifyPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("session: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+string(cred))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("session: verify call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrMismatch
	default:
		return fmt.Errorf("session: verify returned status %d", resp.StatusCode)
	}
}
