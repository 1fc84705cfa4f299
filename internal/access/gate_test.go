package access

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealdesk.org/internal/route"
	"mealdesk.org/internal/session"
	"mealdesk.org/internal/tenant"
	"mealdesk.org/internal/token"
)

// fakeCodec reverses base64url-wrapped identifiers so tests can mint valid
// "encrypted" segments without a backend.
type fakeCodec struct{}

func (fakeCodec) Encrypt(ctx context.Context, id string) (string, error) {
	return "enc" + base64.RawURLEncoding.EncodeToString([]byte(id)), nil
}

func (fakeCodec) Decrypt(ctx context.Context, tok string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !strings.HasPrefix(tok, "enc") {
		return "", fmt.Errorf("%w: token rejected", token.ErrDecrypt)
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok[len("enc"):])
	if err != nil {
		return "", fmt.Errorf("%w: token rejected", token.ErrDecrypt)
	}
	return string(raw), nil
}

func enc(s string) string {
	return "enc" + base64.RawURLEncoding.EncodeToString([]byte(s))
}

// fakeVerifier grants a fixed (companyID, userID) pair and records calls.
type fakeVerifier struct {
	mu        sync.Mutex
	companyID string
	userID    string
	err       error
	calls     []string
	block     chan struct{}
}

func (f *fakeVerifier) Verify(ctx context.Context, cred session.Credential, companyID, userID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, companyID+"/"+userID)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	if companyID != f.companyID || userID != f.userID {
		return session.ErrMismatch
	}
	return nil
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type grantRecord struct {
	mu      sync.Mutex
	granted []Identity
}

func (g *grantRecord) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := FromContext(r.Context())
		require.NoError(t, err, "child rendered without identity")
		g.mu.Lock()
		g.granted = append(g.granted, id)
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("panel:" + id.CompanyID + ":" + id.UserID))
	})
}

func newGateMux(g *Gate, child http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET "+route.CompanyPattern, g.ProtectCompany(child))
	mux.Handle("GET "+route.PanelPattern, g.ProtectPanel(child))
	return mux
}

func authedRequest(target string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.Header.Set("Authorization", "Bearer session-cred")
	return r
}

func TestGateGrantsMatchingSession(t *testing.T) {
	verifier := &fakeVerifier{companyID: "c-123", userID: "u-456"}
	g := New(route.NewParser(fakeCodec{}), verifier)
	rec := &grantRecord{}
	mux := newGateMux(g, rec.handler(t))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, authedRequest("/"+enc("c-123")+"/"+enc("u-456")+"/general"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "panel:c-123:u-456", rr.Body.String())
	require.Len(t, rec.granted, 1)
	assert.Equal(t, Identity{CompanyID: "c-123", UserID: "u-456"}, rec.granted[0])
}

func TestGateGrantsPanelRouteWithTenantType(t *testing.T) {
	verifier := &fakeVerifier{companyID: "c-123", userID: "u-456"}
	g := New(route.NewParser(fakeCodec{}), verifier)
	rec := &grantRecord{}
	mux := newGateMux(g, rec.handler(t))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, authedRequest("/"+enc("u-456")+"/"+enc("supplier")+"/"+enc("c-123")+"/general"))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, rec.granted, 1)
	assert.Equal(t, tenant.Supplier, rec.granted[0].CompanyType)
}

func TestGateDenialIsUniform(t *testing.T) {
	// Every failure cause must produce byte-identical client output so the
	// response never reveals which check failed.
	valid := "/" + enc("c-123") + "/" + enc("u-456") + "/general"

	cases := map[string]struct {
		verifier *fakeVerifier
		request  func() *http.Request
	}{
		"tampered token": {
			verifier: &fakeVerifier{companyID: "c-123", userID: "u-456"},
			request: func() *http.Request {
				return authedRequest("/garbage!/" + enc("u-456") + "/general")
			},
		},
		"identity mismatch": {
			verifier: &fakeVerifier{companyID: "c-999", userID: "u-789"},
			request:  func() *http.Request { return authedRequest(valid) },
		},
		"verifier unreachable": {
			verifier: &fakeVerifier{err: fmt.Errorf("session: verify call: connection refused")},
			request:  func() *http.Request { return authedRequest(valid) },
		},
		"no credential": {
			verifier: &fakeVerifier{companyID: "c-123", userID: "u-456"},
			request:  func() *http.Request { return httptest.NewRequest(http.MethodGet, valid, nil) },
		},
	}

	var bodies []string
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			g := New(route.NewParser(fakeCodec{}), tc.verifier)
			rec := &grantRecord{}
			mux := newGateMux(g, rec.handler(t))

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, tc.request())

			require.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Contains(t, rr.Body.String(), DeniedMessage)
			assert.Contains(t, rr.Body.String(), "url=/login")
			assert.Empty(t, rec.granted, "denied request must not render the panel")
			bodies = append(bodies, rr.Body.String())
		})
	}
	for i := 1; i < len(bodies); i++ {
		assert.Equal(t, bodies[0], bodies[i], "denial bodies must not differ by cause")
	}
}

func TestGateParsesBeforeVerifying(t *testing.T) {
	verifier := &fakeVerifier{companyID: "c-123", userID: "u-456"}
	g := New(route.NewParser(fakeCodec{}), verifier)
	mux := newGateMux(g, (&grantRecord{}).handler(t))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, authedRequest("/not-a-token/"+enc("u-456")+"/general"))

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, verifier.callCount(), "verify must not run when parsing failed")
}

func TestGateReverifiesOnParamChange(t *testing.T) {
	verifier := &fakeVerifier{companyID: "c-123", userID: "u-456"}
	g := New(route.NewParser(fakeCodec{}), verifier)
	rec := &grantRecord{}
	mux := newGateMux(g, rec.handler(t))

	rr1 := httptest.NewRecorder()
	mux.ServeHTTP(rr1, authedRequest("/"+enc("c-123")+"/"+enc("u-456")+"/general"))
	require.Equal(t, http.StatusOK, rr1.Code)

	// Same session, different route identity: the grant for the first route
	// must not carry over.
	rr2 := httptest.NewRecorder()
	mux.ServeHTTP(rr2, authedRequest("/"+enc("c-999")+"/"+enc("u-789")+"/general"))
	require.Equal(t, http.StatusUnauthorized, rr2.Code)

	assert.Equal(t, []string{"c-123/u-456", "c-999/u-789"}, verifier.calls)
	require.Len(t, rec.granted, 1)
}

func TestGateCancelledVerifyNeverGrants(t *testing.T) {
	verifier := &fakeVerifier{companyID: "c-123", userID: "u-456", block: make(chan struct{})}
	g := New(route.NewParser(fakeCodec{}), verifier)
	rec := &grantRecord{}
	mux := newGateMux(g, rec.handler(t))

	ctx, cancel := context.WithCancel(context.Background())
	req := authedRequest("/" + enc("c-123") + "/" + enc("u-456") + "/general").WithContext(ctx)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		done <- rr
	}()

	// Simulate navigation away while verification is in flight.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case rr := <-done:
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, rec.granted)
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not resolve after cancellation")
	}
}

func TestGateStaleVerificationDoesNotLeakAcrossRequests(t *testing.T) {
	release := make(chan struct{})
	verifier := &fakeVerifier{companyID: "c-123", userID: "u-456", block: release}
	g := New(route.NewParser(fakeCodec{}), verifier)
	rec := &grantRecord{}
	mux := newGateMux(g, rec.handler(t))

	// First navigation: verification stalls in flight.
	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, authedRequest("/"+enc("c-123")+"/"+enc("u-456")+"/general"))
		first <- rr
	}()
	time.Sleep(20 * time.Millisecond)

	// Second navigation to a different identity resolves first and is denied.
	verifier.mu.Lock()
	verifier.block = nil
	verifier.mu.Unlock()
	rr2 := httptest.NewRecorder()
	mux.ServeHTTP(rr2, authedRequest("/"+enc("c-999")+"/"+enc("u-789")+"/general"))
	require.Equal(t, http.StatusUnauthorized, rr2.Code)

	// The stale first verification may now complete; its success belongs to
	// its own request only.
	close(release)
	select {
	case rr1 := <-first:
		require.Equal(t, http.StatusOK, rr1.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("first request never resolved")
	}
	require.Len(t, rec.granted, 1)
	assert.Equal(t, "c-123", rec.granted[0].CompanyID)
}

func TestGateRejectsBadPageSlug(t *testing.T) {
	verifier := &fakeVerifier{companyID: "c-123", userID: "u-456"}
	g := New(route.NewParser(fakeCodec{}), verifier)
	mux := newGateMux(g, (&grantRecord{}).handler(t))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, authedRequest("/"+enc("c-123")+"/"+enc("u-456")+"/Bad_Page"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, verifier.callCount())
}

func TestGateDenyDelayAndLoginPathConfigurable(t *testing.T) {
	verifier := &fakeVerifier{err: session.ErrMismatch}
	g := New(route.NewParser(fakeCodec{}), verifier,
		WithLoginPath("/signin"),
		WithDenyDelay(5*time.Second),
	)
	mux := newGateMux(g, (&grantRecord{}).handler(t))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, authedRequest("/"+enc("c-123")+"/"+enc("u-456")+"/general"))

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), `content="5;url=/signin"`)
}
