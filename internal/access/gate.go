package access

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"mealdesk.org/internal/audit"
	"mealdesk.org/internal/obs"
	"mealdesk.org/internal/route"
	"mealdesk.org/internal/session"
)

// DeniedMessage is the single client-visible denial text. Every failure mode
// funnels here: which check failed is a server-log concern only.
const DeniedMessage = "Session invalid or unauthorized access."

const defaultDenyDelay = 2 * time.Second

// Gate wraps panel handlers with the parse -> verify -> grant/deny sequence.
// Each request runs the full sequence; nothing is carried over between
// requests, so a change of route segments always re-verifies.
type Gate struct {
	parser    *route.Parser
	verifier  session.Verifier
	log       zerolog.Logger
	loginPath string
	denyDelay time.Duration
}

// Option configures a Gate.
type Option func(*Gate)

// WithLoginPath overrides the redirect target shown on denial.
func WithLoginPath(p string) Option {
	return func(g *Gate) {
		if p != "" {
			g.loginPath = p
		}
	}
}

// WithDenyDelay overrides the pause before the denial page redirects. The
// delay exists so the user can read the message, nothing more.
func WithDenyDelay(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.denyDelay = d
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gate) { g.log = l }
}

func New(parser *route.Parser, verifier session.Verifier, opts ...Option) *Gate {
	g := &Gate{
		parser:    parser,
		verifier:  verifier,
		log:       obs.Logger(),
		loginPath: "/login",
		denyDelay: defaultDenyDelay,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ProtectCompany guards the 3-segment company route.
func (g *Gate) ProtectCompany(next http.Handler) http.Handler {
	return g.protect("company", g.parser.ParseCompany, next)
}

// ProtectPanel guards the 4-segment tenant-type route.
func (g *Gate) ProtectPanel(next http.Handler) http.Handler {
	return g.protect("panel", g.parser.ParsePanel, next)
}

type parseFunc func(ctx context.Context, params route.Params) (route.Identifiers, error)

func (g *Gate) protect(shape string, parse parseFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		params := route.ParamsFromRequest(r)

		if !route.ValidPage(params.Page) {
			g.deny(w, r, shape, fmt.Errorf("%w: page", route.ErrBadPage))
			return
		}

		// Parse must succeed before verification is even attempted.
		ids, err := parse(ctx, params)
		if err != nil {
			g.deny(w, r, shape, err)
			return
		}

		cred, err := session.CredentialFromRequest(r)
		if err != nil {
			g.deny(w, r, shape, err)
			return
		}

		// The verifier binds the URL's claimed identity to the session
		// behind the credential. The request context cancels in-flight
		// verification when the client navigates away; a cancelled verify
		// is an error and therefore a deny.
		if err := g.verifier.Verify(ctx, cred, ids.CompanyID, ids.UserID); err != nil {
			g.deny(w, r, shape, err)
			return
		}
		if ctx.Err() != nil {
			g.deny(w, r, shape, ctx.Err())
			return
		}

		identity := Identity{
			CompanyID:   ids.CompanyID,
			UserID:      ids.UserID,
			CompanyType: ids.CompanyType,
		}

		obs.ObserveGateDecision(shape, "granted")
		_ = audit.LogEvent(ctx, "access.granted", map[string]any{
			"shape":      shape,
			"company_id": identity.CompanyID,
			"user_id":    identity.UserID,
		})

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(ctx, identity)))
	})
}

const denyPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="%d;url=%s">
<title>Access denied</title>
</head>
<body>
<p role="alert">%s You are being redirected to the login page.</p>
</body>
</html>
`

// deny renders the uniform denial response. The real cause is logged and
// audited but never sent to the client.
func (g *Gate) deny(w http.ResponseWriter, r *http.Request, shape string, cause error) {
	obs.ObserveGateDecision(shape, "denied")
	g.log.Warn().
		Str("shape", shape).
		Str("path", obs.CanonicalPath(r.URL.Path)).
		Err(cause).
		Msg("access denied")
	_ = audit.LogEvent(r.Context(), "access.denied", map[string]any{
		"shape":  shape,
		"reason": cause.Error(),
	})

	delaySec := int(g.denyDelay / time.Second)
	if delaySec < 1 {
		delaySec = 1
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, denyPage, delaySec, g.loginPath, DeniedMessage)
}
