// Package tenant defines the tenant-scoping model shared across the gateway:
// the closed set of company types and validation for the plain identifiers
// that scope every panel route.
package tenant

import (
	"errors"
	"fmt"
	"strings"
)

// Type identifies one of the company-level tenant scopes. Individual users
// are not a Type; they are addressed by the route shape that carries no
// company-type segment.
type Type string

const (
	Corporate Type = "corporate"
	Catering  Type = "catering"
	Supplier  Type = "supplier"
)

var ErrUnknownType = errors.New("tenant: unknown company type")

// ParseType maps a plain decrypted segment onto the closed enum. Matching is
// exact after trimming; free-form or substring matches are rejected.
func ParseType(raw string) (Type, error) {
	switch Type(strings.TrimSpace(strings.ToLower(raw))) {
	case Corporate:
		return Corporate, nil
	case Catering:
		return Catering, nil
	case Supplier:
		return Supplier, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
	}
}

func (t Type) String() string { return string(t) }

// Valid reports whether t is a member of the closed enum.
func (t Type) Valid() bool {
	switch t {
	case Corporate, Catering, Supplier:
		return true
	}
	return false
}

// ErrInvalidIdentifier indicates a plain identifier failed shape validation.
var ErrInvalidIdentifier = errors.New("tenant: invalid identifier")

const maxIdentifierLen = 128

// ValidateIdentifier checks the shape of a plain company or user identifier
// before it is handed to the crypto service. Identifiers are opaque unique
// strings (UUIDs in practice); they never contain path separators or
// whitespace.
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if len(id) > maxIdentifierLen {
		return fmt.Errorf("%w: too long", ErrInvalidIdentifier)
	}
	for _, r := range id {
		if r <= ' ' || r > '~' || r == '/' || r == '\\' {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
		}
	}
	return nil
}
