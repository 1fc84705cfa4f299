// Package httpapi assembles the gateway's HTTP surface: the opaque panel
// routes behind the access gate, the link-builder endpoint, and the
// operational endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"mealdesk.org/internal/access"
	"mealdesk.org/internal/obs"
	"mealdesk.org/internal/panel"
	"mealdesk.org/internal/route"
	"mealdesk.org/internal/session"
)

// ReadyProbe checks that the trusted backend is reachable. Any HTTP answer
// counts as reachable; only transport failures fail readiness.
type ReadyProbe struct {
	BackendURL string
	Client     *http.Client
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.BackendURL == "" {
		return nil
	}
	client := rp.Client
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rp.BackendURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
	return nil
}

// Options wires the API's collaborators.
type Options struct {
	Version    string
	Gate       *access.Gate
	Panels     *panel.Router
	Builder    *route.Builder
	Verifier   session.Verifier
	ReadyProbe ReadyProbe

	LoginPath          string
	RateLimitPerSecond int
	RateLimitBurst     int
	MaxBodyBytes       int64
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	opts Options
}

func New(opts Options) *API {
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if opts.RateLimitPerSecond <= 0 {
		opts.RateLimitPerSecond = 20
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 40
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	a := &API{mux: http.NewServeMux(), opts: opts}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())
	a.mux.HandleFunc("GET "+opts.LoginPath, a.LoginPage)

	a.mux.HandleFunc("POST /v1/links", a.handleBuildLink)

	// The opaque panel routes. Everything under the gate reads identity
	// from the access context only.
	if opts.Gate != nil && opts.Panels != nil {
		a.mux.Handle("GET "+route.CompanyPattern, opts.Gate.ProtectCompany(opts.Panels.Individual()))
		a.mux.Handle("GET "+route.PanelPattern, opts.Gate.ProtectPanel(opts.Panels.Company()))
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = LoggingJSON(h)
	h = RateLimit(h, a.opts.RateLimitBurst, a.opts.RateLimitPerSecond)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "mealdesk-gateway",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.ReadyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "mealdesk-gateway",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

const loginPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Mealdesk sign in</title></head>
<body>
<h1>Sign in</h1>
<p>Authenticate against the platform to receive a session, then follow a
panel link issued for your account.</p>
</body>
</html>
`

// LoginPage is the redirect target for denied requests. Authentication
// itself happens against the platform API, not here.
func (a *API) LoginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(loginPage))
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
