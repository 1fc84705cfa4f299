// Package token implements the opaque-token codec: a thin RPC client for the
// trusted backend's crypto endpoints. Identifiers are encrypted and decrypted
// server-side; no key material ever lives in this process.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mealdesk.org/internal/obs"
)

var (
	// ErrEncrypt indicates the remote encrypt call failed or returned an
	// unusable token.
	ErrEncrypt = errors.New("token: encryption failed")
	// ErrDecrypt indicates the remote decrypt call failed or the token was
	// rejected by the backend.
	ErrDecrypt = errors.New("token: decryption failed")
)

// Codec encrypts plain identifiers to opaque URL-safe tokens and back.
type Codec interface {
	Encrypt(ctx context.Context, id string) (string, error)
	Decrypt(ctx context.Context, tok string) (string, error)
}

const (
	encryptPath = "/api/crypto/encrypt"
	decryptPath = "/api/crypto/decrypt"

	defaultTimeout = 5 * time.Second
	maxRespBytes   = 64 << 10
)

// Client is the HTTP implementation of Codec. There is no fallback path: a
// failed remote call is a failed operation, never a locally encoded stand-in.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a codec client for the backend at baseURL. A non-positive
// timeout falls back to a conservative default.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("token: backend base URL is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("token: invalid base URL: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: timeout},
	}, nil
}

type encryptRequest struct {
	ID string `json:"id"`
}

type encryptResponse struct {
	Encrypted string `json:"encrypted"`
}

type decryptRequest struct {
	Encrypted string `json:"encrypted"`
}

type decryptResponse struct {
	Decrypted string `json:"decrypted"`
}

// Encrypt exchanges a plain identifier for an opaque token. The returned
// token is checked to be URL-safe so it can stand in a path segment without
// further escaping.
func (c *Client) Encrypt(ctx context.Context, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrEncrypt)
	}
	var resp encryptResponse
	if err := c.post(ctx, "encrypt", encryptPath, encryptRequest{ID: id}, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	tok := resp.Encrypted
	if tok == "" {
		return "", fmt.Errorf("%w: backend returned empty token", ErrEncrypt)
	}
	if !urlSafe(tok) {
		return "", fmt.Errorf("%w: backend returned non URL-safe token", ErrEncrypt)
	}
	return tok, nil
}

// Decrypt exchanges an opaque token for the plain identifier it was minted
// for. Results are never cached: a revoked or expired token must fail on the
// very next request.
func (c *Client) Decrypt(ctx context.Context, tok string) (string, error) {
	if strings.TrimSpace(tok) == "" {
		return "", fmt.Errorf("%w: empty token", ErrDecrypt)
	}
	var resp decryptResponse
	if err := c.post(ctx, "decrypt", decryptPath, decryptRequest{Encrypted: tok}, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if resp.Decrypted == "" {
		return "", fmt.Errorf("%w: backend returned empty identifier", ErrDecrypt)
	}
	return resp.Decrypted, nil
}

func (c *Client) post(ctx context.Context, call, path string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		obs.ObserveBackendCall(call, outcome, time.Since(start))
	}()

	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a bounded amount so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxRespBytes))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxRespBytes))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// urlSafe reports whether tok survives a path segment verbatim: unreserved
// URL characters only, no separators, no percent escapes.
func urlSafe(tok string) bool {
	for _, r := range tok {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '~':
		default:
			return false
		}
	}
	return true
}
