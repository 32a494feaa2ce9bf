package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/JoJoGatito/koji-gallery/internal/domain"
)

const artworkByID = `*[_type == "artwork" && _id == $id][0]{
  _id,
  title,
  slug,
  price,
  currency,
  availability,
  heroImage,
  stripePaymentLink
}`

type SanityConfig struct {
	ProjectID  string
	Dataset    string
	APIVersion string
	// Token is only needed for private datasets.
	Token  string
	UseCDN bool
	// BaseURL overrides the URL derived from ProjectID.
	BaseURL string
	Timeout time.Duration
}

func (c SanityConfig) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	host := "api.sanity.io"
	if c.UseCDN {
		host = "apicdn.sanity.io"
	}
	return fmt.Sprintf("https://%s.%s", c.ProjectID, host)
}

type queryResponse struct {
	Result json.RawMessage `json:"result"`
	MS     int             `json:"ms"`
}

// Sanity looks artworks up in the CMS over its HTTP query API.
type Sanity struct {
	client *resty.Client
	path   string
	cb     *gobreaker.CircuitBreaker[*domain.Artwork]
	group  singleflight.Group
}

func NewSanity(cfg SanityConfig) *Sanity {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.baseURL()).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	cb := gobreaker.NewCircuitBreaker[*domain.Artwork](gobreaker.Settings{
		Name:        "sanity",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a missing artwork is an answer, not a failure of the CMS
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})

	return &Sanity{
		client: client,
		path:   fmt.Sprintf("/v%s/data/query/%s", cfg.APIVersion, cfg.Dataset),
		cb:     cb,
	}
}

// Artwork fetches one artwork. Concurrent lookups of the same id share a
// request; when the CMS keeps failing the breaker opens and lookups fail fast
// with ErrUnavailable.
func (s *Sanity) Artwork(ctx context.Context, id string) (*domain.Artwork, error) {
	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		return s.cb.Execute(func() (*domain.Artwork, error) {
			return s.fetch(ctx, id)
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	a := *v.(*domain.Artwork)
	return &a, nil
}

func (s *Sanity) fetch(ctx context.Context, id string) (*domain.Artwork, error) {
	var out queryResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("query", artworkByID).
		SetQueryParam("$id", strconv.Quote(id)).
		SetResult(&out).
		Get(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		if resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
		}
		return nil, fmt.Errorf("sanity query failed: status %d: %s", resp.StatusCode(), resp.String())
	}

	if len(out.Result) == 0 || string(out.Result) == "null" {
		return nil, ErrNotFound
	}
	var a domain.Artwork
	if err := json.Unmarshal(out.Result, &a); err != nil {
		return nil, fmt.Errorf("decode artwork failed: %w", err)
	}
	if a.Currency == "" {
		a.Currency = domain.DefaultCurrency
	}
	if a.Availability == "" {
		a.Availability = domain.Available
	}
	return &a, nil
}
