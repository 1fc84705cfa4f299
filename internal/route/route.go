// Package route composes and decomposes the opaque panel routes. Plain
// identifiers never appear in a produced URL; every identifying segment goes
// through the token codec, and a codec failure fails the whole operation.
package route

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"mealdesk.org/internal/tenant"
	"mealdesk.org/internal/token"
)

var (
	// ErrBuild wraps the codec error that prevented a URL from being built.
	ErrBuild = errors.New("route: build failed")
	// ErrMissingParam indicates a required encrypted segment was absent.
	ErrMissingParam = errors.New("route: missing route parameter")
	// ErrBadPage indicates the plain page slug failed validation.
	ErrBadPage = errors.New("route: invalid page slug")
)

// Path wildcard names used by the gateway mux. ParamsFromRequest reads the
// same names, so the two cannot drift apart.
const (
	SegCompanyID   = "encCompanyId"
	SegUserID      = "encUserId"
	SegCompanyType = "encCompanyType"
	SegPage        = "page"
)

// CompanyPattern is the 3-segment route: company-scoped views for an
// individual user. PanelPattern is the 4-segment route whose extra segment
// disambiguates the tenant type before panel dispatch.
const (
	CompanyPattern = "/{" + SegCompanyID + "}/{" + SegUserID + "}/{" + SegPage + "}"
	PanelPattern   = "/{" + SegUserID + "}/{" + SegCompanyType + "}/{" + SegCompanyID + "}/{" + SegPage + "}"
)

// Params carries the raw (still encrypted) segments of the current request.
type Params struct {
	EncCompanyID   string
	EncUserID      string
	EncCompanyType string
	Page           string
}

// ParamsFromRequest pulls the wildcard segments off a request routed through
// one of the two patterns above.
func ParamsFromRequest(r *http.Request) Params {
	return Params{
		EncCompanyID:   r.PathValue(SegCompanyID),
		EncUserID:      r.PathValue(SegUserID),
		EncCompanyType: r.PathValue(SegCompanyType),
		Page:           r.PathValue(SegPage),
	}
}

// Identifiers is the plain result of parsing a route. CompanyType is set only
// for the 4-segment panel form.
type Identifiers struct {
	CompanyID   string
	UserID      string
	CompanyType tenant.Type
}

// ValidPage reports whether page is an acceptable plain slug.
func ValidPage(page string) bool {
	if page == "" || len(page) > 64 {
		return false
	}
	for _, r := range page {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}

// Builder mints opaque routes.
type Builder struct {
	codec token.Codec
}

func NewBuilder(codec token.Codec) *Builder {
	return &Builder{codec: codec}
}

// CompanyRoute returns /{encCompanyId}/{encUserId}/{page}. The two encrypt
// calls run concurrently; both must succeed before any URL is returned.
func (b *Builder) CompanyRoute(ctx context.Context, companyID, userID, page string) (string, error) {
	if !ValidPage(page) {
		return "", fmt.Errorf("%w: %q", ErrBadPage, page)
	}
	var encCompany, encUser string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		encCompany, err = b.codec.Encrypt(gctx, companyID)
		return err
	})
	g.Go(func() error {
		var err error
		encUser, err = b.codec.Encrypt(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBuild, err)
	}
	return "/" + encCompany + "/" + encUser + "/" + page, nil
}

// PanelRoute returns /{encUserId}/{encCompanyType}/{encCompanyId}/{page},
// the form used by panels that dispatch on tenant type.
func (b *Builder) PanelRoute(ctx context.Context, userID string, ct tenant.Type, companyID, page string) (string, error) {
	if !ValidPage(page) {
		return "", fmt.Errorf("%w: %q", ErrBadPage, page)
	}
	if !ct.Valid() {
		return "", fmt.Errorf("%w: %w", ErrBuild, tenant.ErrUnknownType)
	}
	var encUser, encType, encCompany string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		encUser, err = b.codec.Encrypt(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		encType, err = b.codec.Encrypt(gctx, ct.String())
		return err
	})
	g.Go(func() error {
		var err error
		encCompany, err = b.codec.Encrypt(gctx, companyID)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBuild, err)
	}
	return "/" + encUser + "/" + encType + "/" + encCompany + "/" + page, nil
}

// Parser decrypts the identifying segments of a route.
type Parser struct {
	codec token.Codec
}

func NewParser(codec token.Codec) *Parser {
	return &Parser{codec: codec}
}

// ParseCompany handles the 3-segment form. All expected segments must be
// present and every one must decrypt; there is no partial result.
func (p *Parser) ParseCompany(ctx context.Context, params Params) (Identifiers, error) {
	if strings.TrimSpace(params.EncCompanyID) == "" {
		return Identifiers{}, fmt.Errorf("%w: %s", ErrMissingParam, SegCompanyID)
	}
	if strings.TrimSpace(params.EncUserID) == "" {
		return Identifiers{}, fmt.Errorf("%w: %s", ErrMissingParam, SegUserID)
	}

	var companyID, userID string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		companyID, err = p.codec.Decrypt(gctx, params.EncCompanyID)
		return err
	})
	g.Go(func() error {
		var err error
		userID, err = p.codec.Decrypt(gctx, params.EncUserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Identifiers{}, err
	}
	return Identifiers{CompanyID: companyID, UserID: userID}, nil
}

// ParsePanel handles the 4-segment form and validates the decrypted company
// type against the closed enum.
func (p *Parser) ParsePanel(ctx context.Context, params Params) (Identifiers, error) {
	if strings.TrimSpace(params.EncUserID) == "" {
		return Identifiers{}, fmt.Errorf("%w: %s", ErrMissingParam, SegUserID)
	}
	if strings.TrimSpace(params.EncCompanyType) == "" {
		return Identifiers{}, fmt.Errorf("%w: %s", ErrMissingParam, SegCompanyType)
	}
	if strings.TrimSpace(params.EncCompanyID) == "" {
		return Identifiers{}, fmt.Errorf("%w: %s", ErrMissingParam, SegCompanyID)
	}

	var userID, rawType, companyID string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		userID, err = p.codec.Decrypt(gctx, params.EncUserID)
		return err
	})
	g.Go(func() error {
		var err error
		rawType, err = p.codec.Decrypt(gctx, params.EncCompanyType)
		return err
	})
	g.Go(func() error {
		var err error
		companyID, err = p.codec.Decrypt(gctx, params.EncCompanyID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Identifiers{}, err
	}

	ct, err := tenant.ParseType(rawType)
	if err != nil {
		return Identifiers{}, err
	}
	return Identifiers{CompanyID: companyID, UserID: userID, CompanyType: ct}, nil
}
