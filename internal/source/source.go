package source

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/mfcoelho/plenario/internal/model"
)

// Classification sentinels for fetch failures. The collector retries
// transient failures with backoff and gives up immediately on permanent
// ones, so every error returned by a Source must wrap exactly one of them.
var (
	// ErrTransient marks failures a retry can fix: network faults,
	// timeouts, upstream 5xx responses and rate limiting.
	ErrTransient = errors.New("transient source error")

	// ErrPermanent marks failures no retry can fix: client-side rejections,
	// malformed payloads, unexpected schemas.
	ErrPermanent = errors.New("permanent source error")
)

// Source is the capability set every city integration implements. Adding a
// city means implementing this interface and registering it; no other
// component changes.
//
// Paginated methods return (items, hasMore, error). Pages start at 1. A
// fetch must be idempotent for a given page, must not retry, and must not
// cache; retries and persistence belong to the collector.
type Source interface {
	// Identity returns the city key (e.g. "florianopolis") and the
	// two-letter state code (e.g. "SC").
	Identity() (city, uf string)

	// FetchCouncilmembers returns the sitting councilmembers in one call;
	// no pagination is assumed for this family.
	FetchCouncilmembers(ctx context.Context) ([]model.Councilmember, error)

	// FetchProposals returns one page of legislative proposals, optionally
	// filtered by proposal type (source-native filter value, empty for all).
	FetchProposals(ctx context.Context, page int, typeFilter string) ([]model.Proposal, bool, error)

	// FetchAgenda returns one page of session agenda items.
	FetchAgenda(ctx context.Context, page int) ([]model.AgendaItem, bool, error)

	// FetchNews returns one page of published news items.
	FetchNews(ctx context.Context, page int) ([]model.NewsItem, bool, error)
}

// DistrictLister is an optional capability: sources whose city publishes
// its recognized geographic subdivisions (bairros) implement it. ICG
// reporting uses it to name subdivisions; no metric depends on it.
type DistrictLister interface {
	FetchDistricts(ctx context.Context) ([]model.District, error)
}

// Options carries per-city connection settings from configuration into a
// Source constructor. Zero values select the adapter's defaults.
type Options struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
}

// classifyStatus maps a non-2xx HTTP status onto the retry taxonomy.
func classifyStatus(code int) error {
	if code >= 500 || code == http.StatusTooManyRequests {
		return ErrTransient
	}
	return ErrPermanent
}

// newHTTPClient builds the hardened client shared by adapters: overall
// request timeout plus bounded dial and TLS handshake phases.
func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}
