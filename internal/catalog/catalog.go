// Package catalog looks up artworks for the cart. The cart only ever needs
// one artwork by id; listing and searching the catalog are the site's concern.
package catalog

import (
	"context"
	"errors"

	"github.com/JoJoGatito/koji-gallery/internal/domain"
)

var (
	ErrNotFound = errors.New("artwork not found")
	// ErrUnavailable means the catalog could not be asked; the cart is unaffected.
	ErrUnavailable = errors.New("catalog unavailable")
)

type Provider interface {
	Artwork(ctx context.Context, id string) (*domain.Artwork, error)
}

// Recorder is told the outcome of each lookup.
type Recorder interface {
	CatalogLookup(result string)
}

// Observed reports the outcome of every lookup of p to rec.
func Observed(p Provider, rec Recorder) Provider {
	return observed{p: p, rec: rec}
}

type observed struct {
	p   Provider
	rec Recorder
}

func (o observed) Artwork(ctx context.Context, id string) (*domain.Artwork, error) {
	a, err := o.p.Artwork(ctx, id)
	switch {
	case err == nil:
		o.rec.CatalogLookup("ok")
	case errors.Is(err, ErrNotFound):
		o.rec.CatalogLookup("not_found")
	case errors.Is(err, ErrUnavailable):
		o.rec.CatalogLookup("unavailable")
	default:
		o.rec.CatalogLookup("error")
	}
	return a, err
}
