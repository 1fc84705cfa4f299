package route

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealdesk.org/internal/tenant"
	"mealdesk.org/internal/token"
)

// fakeCodec is a reversible in-memory codec. failOn makes a specific
// identifier (or token) fail, to exercise error propagation.
type fakeCodec struct {
	mu      sync.Mutex
	calls   int
	failEnc string
	failDec string
}

func (f *fakeCodec) Encrypt(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if id == f.failEnc {
		return "", fmt.Errorf("%w: remote failure", token.ErrEncrypt)
	}
	return "enc" + base64.RawURLEncoding.EncodeToString([]byte(id)), nil
}

func (f *fakeCodec) Decrypt(ctx context.Context, tok string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if tok == f.failDec || !strings.HasPrefix(tok, "enc") {
		return "", fmt.Errorf("%w: token rejected", token.ErrDecrypt)
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok[len("enc"):])
	if err != nil {
		return "", fmt.Errorf("%w: token rejected", token.ErrDecrypt)
	}
	return string(raw), nil
}

func (f *fakeCodec) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestBuilderCompanyRouteRoundTrip(t *testing.T) {
	codec := &fakeCodec{}
	b := NewBuilder(codec)
	p := NewParser(codec)

	url, err := b.CompanyRoute(context.Background(), "c-123", "u-456", "dashboard")
	require.NoError(t, err)

	segments := strings.Split(strings.TrimPrefix(url, "/"), "/")
	require.Len(t, segments, 3)
	assert.Equal(t, "dashboard", segments[2])
	assert.NotContains(t, url, "c-123")
	assert.NotContains(t, url, "u-456")

	ids, err := p.ParseCompany(context.Background(), Params{
		EncCompanyID: segments[0],
		EncUserID:    segments[1],
		Page:         segments[2],
	})
	require.NoError(t, err)
	assert.Equal(t, "c-123", ids.CompanyID)
	assert.Equal(t, "u-456", ids.UserID)
}

func TestBuilderPanelRouteRoundTrip(t *testing.T) {
	codec := &fakeCodec{}
	b := NewBuilder(codec)
	p := NewParser(codec)

	url, err := b.PanelRoute(context.Background(), "u-456", tenant.Catering, "c-123", "employees")
	require.NoError(t, err)

	segments := strings.Split(strings.TrimPrefix(url, "/"), "/")
	require.Len(t, segments, 4)
	assert.Equal(t, "employees", segments[3])
	assert.NotContains(t, url, "catering")

	ids, err := p.ParsePanel(context.Background(), Params{
		EncUserID:      segments[0],
		EncCompanyType: segments[1],
		EncCompanyID:   segments[2],
		Page:           segments[3],
	})
	require.NoError(t, err)
	assert.Equal(t, "c-123", ids.CompanyID)
	assert.Equal(t, "u-456", ids.UserID)
	assert.Equal(t, tenant.Catering, ids.CompanyType)
}

func TestBuilderFailsClosedOnEncryptError(t *testing.T) {
	codec := &fakeCodec{failEnc: "u-456"}
	b := NewBuilder(codec)

	url, err := b.CompanyRoute(context.Background(), "c-123", "u-456", "dashboard")
	require.ErrorIs(t, err, ErrBuild)
	require.ErrorIs(t, err, token.ErrEncrypt)
	// No partially built or plain-identifier URL may leak out.
	assert.Empty(t, url)
}

func TestBuilderRejectsBadPage(t *testing.T) {
	codec := &fakeCodec{}
	b := NewBuilder(codec)

	for _, page := range []string{"", "General", "a/b", "page?x=1", strings.Repeat("p", 65)} {
		_, err := b.CompanyRoute(context.Background(), "c-123", "u-456", page)
		require.ErrorIs(t, err, ErrBadPage, "page %q", page)
	}
	// The codec must not be consulted for an invalid page.
	assert.Zero(t, codec.callCount())
}

func TestBuilderRejectsUnknownTenantType(t *testing.T) {
	b := NewBuilder(&fakeCodec{})
	_, err := b.PanelRoute(context.Background(), "u-456", tenant.Type("owner"), "c-123", "general")
	require.ErrorIs(t, err, ErrBuild)
}

func TestParserRequiresAllSegments(t *testing.T) {
	p := NewParser(&fakeCodec{})

	_, err := p.ParseCompany(context.Background(), Params{EncUserID: "encX"})
	require.ErrorIs(t, err, ErrMissingParam)

	_, err = p.ParseCompany(context.Background(), Params{EncCompanyID: "encX"})
	require.ErrorIs(t, err, ErrMissingParam)

	_, err = p.ParsePanel(context.Background(), Params{EncUserID: "encX", EncCompanyID: "encY"})
	require.ErrorIs(t, err, ErrMissingParam)
}

func TestParserPropagatesDecryptError(t *testing.T) {
	codec := &fakeCodec{failDec: "encbad"}
	p := NewParser(codec)

	_, err := p.ParseCompany(context.Background(), Params{
		EncCompanyID: "encbad",
		EncUserID:    "enc" + base64.RawURLEncoding.EncodeToString([]byte("u-456")),
	})
	require.ErrorIs(t, err, token.ErrDecrypt)
}

func TestParserRejectsForeignCompanyType(t *testing.T) {
	codec := &fakeCodec{}
	p := NewParser(codec)

	// A token that decrypts fine but to a value outside the closed enum.
	enc := func(s string) string { return "enc" + base64.RawURLEncoding.EncodeToString([]byte(s)) }
	_, err := p.ParsePanel(context.Background(), Params{
		EncUserID:      enc("u-456"),
		EncCompanyType: enc("franchise"),
		EncCompanyID:   enc("c-123"),
	})
	require.ErrorIs(t, err, tenant.ErrUnknownType)
}

func TestParamsFromRequest(t *testing.T) {
	mux := http.NewServeMux()
	var got Params
	mux.HandleFunc("GET "+PanelPattern, func(w http.ResponseWriter, r *http.Request) {
		got = ParamsFromRequest(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/encUSR/encTYPE/encCO/general", nil)
	mux.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "encUSR", got.EncUserID)
	assert.Equal(t, "encTYPE", got.EncCompanyType)
	assert.Equal(t, "encCO", got.EncCompanyID)
	assert.Equal(t, "general", got.Page)
}

func TestValidPage(t *testing.T) {
	for _, page := range []string{"general", "employees", "store-admin", "a1"} {
		assert.True(t, ValidPage(page), page)
	}
	for _, page := range []string{"", "General", "a_b", "a.b", "a b", "a/b"} {
		assert.False(t, ValidPage(page), page)
	}
}

func TestBuilderCancelledContext(t *testing.T) {
	codec := &fakeCodec{}
	b := NewBuilder(codec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.CompanyRoute(ctx, "c-123", "u-456", "general")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBuild))
}
