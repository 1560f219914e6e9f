package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"

	"restock-monitor/internal/registry"
)

// UserAgent is sent by both strategies so requests look like an ordinary desktop browser.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Fetcher retrieves the raw markup of a product page.
type Fetcher interface {
	Fetch(ctx context.Context, product registry.Product) ([]byte, error)
}

// FetchError is returned for every failed fetch: network errors, timeouts, non-2xx
// responses and browser failures alike.
type FetchError struct {
	ProductID string
	Strategy  registry.Strategy
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch '%s' (%s): %v", e.ProductID, e.Strategy, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the fetch failed because it ran out of time.
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

func newFetchError(product registry.Product, strategy registry.Strategy, err error) *FetchError {
	return &FetchError{
		ProductID: product.ID,
		Strategy:  strategy,
		Err:       err,
	}
}

// Router sends each product to the fetcher for its rendering strategy. A dynamic
// product is only ever rendered, it never falls back to a static request.
type Router struct {
	static  Fetcher
	dynamic Fetcher
}

// NewRouter creates a Router, dynamic may be nil when rendering is unavailable in
// which case dynamic products fail to fetch.
func NewRouter(static, dynamic Fetcher) Router {
	return Router{static: static, dynamic: dynamic}
}

var ErrRenderingUnavailable = errors.New("rendering is unavailable")

func (r Router) Fetch(ctx context.Context, product registry.Product) ([]byte, error) {
	switch product.Strategy {
	case registry.StrategyStatic:
		if r.static == nil {
			return nil, newFetchError(product, product.Strategy, errors.New("static fetching is unavailable"))
		}
		return r.static.Fetch(ctx, product)
	case registry.StrategyDynamic:
		if r.dynamic == nil {
			return nil, newFetchError(product, product.Strategy, ErrRenderingUnavailable)
		}
		return r.dynamic.Fetch(ctx, product)
	}
	return nil, newFetchError(product, product.Strategy, fmt.Errorf("unknown strategy '%s'", product.Strategy))
}
