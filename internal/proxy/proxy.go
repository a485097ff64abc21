// Package proxy performs the one-hop lookup from a proxy contract to the
// source of its implementation.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pendergraft/contrapull/internal/validation"
	"github.com/pendergraft/contrapull/pkg/explorer"
)

// Common errors returned by the resolver.
var (
	ErrUnverifiedImplementation = errors.New("implementation source not verified")
)

// Lookup issues one verification lookup for an address.
type Lookup interface {
	GetSourceCode(ctx context.Context, address string) (*explorer.SourceRecord, error)
}

// Resolver fetches the implementation record behind proxy contracts. It
// never follows more than one hop: the implementation's own proxy flag is
// ignored, so a resolved address costs at most two lookups in total.
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a new proxy resolver.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Implementation pairs a resolved implementation address with its record.
type Implementation struct {
	Address string
	Record  *explorer.SourceRecord
}

// Needed reports whether a record warrants an implementation lookup: the
// proxy flag must be set, an implementation address must be present, and it
// must differ from the proxied address itself (a self-referential proxy
// would otherwise loop).
func Needed(address string, rec *explorer.SourceRecord) bool {
	if rec == nil || !rec.IsProxy() {
		return false
	}
	impl := rec.ImplementationAddress()
	if impl == "" {
		return false
	}
	return !strings.EqualFold(impl, address)
}

// Resolve performs at most one implementation lookup for the given record
// and returns (nil, nil) when the record does not warrant one. Failures are
// address-scoped: the caller still owns a usable record for the proxy
// itself.
func (r *Resolver) Resolve(ctx context.Context, address string, rec *explorer.SourceRecord) (*Implementation, error) {
	if !Needed(address, rec) {
		return nil, nil
	}

	impl := validation.NormalizeAddress(rec.ImplementationAddress())
	if err := validation.ValidateAddress(impl); err != nil {
		return nil, fmt.Errorf("implementation address %q: %w", rec.ImplementationAddress(), err)
	}

	implRec, err := r.lookup.GetSourceCode(ctx, impl)
	if err != nil {
		return nil, fmt.Errorf("implementation lookup for %s: %w", impl, err)
	}
	if !implRec.IsVerified() {
		return nil, fmt.Errorf("%w: %s", ErrUnverifiedImplementation, impl)
	}

	return &Implementation{Address: impl, Record: implRec}, nil
}
