package fetcher

import (
	"context"
	"fmt"
	"time"

	"restock-monitor/internal/assert"
	"restock-monitor/internal/components/telemetry"
	"restock-monitor/internal/registry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

const report_static_fetch = "static.fetch"

// StaticFetcher retrieves pages with a single http request.
type StaticFetcher struct {
	http    *resty.Client
	limiter *HostLimiter
	tel     telemetry.API
}

// NewStaticFetcher creates a StaticFetcher whose requests give up after timeout.
func NewStaticFetcher(timeout time.Duration, limiter *HostLimiter, tel telemetry.API) StaticFetcher {
	assert.NotNil(tel, "telemetry")
	tel = telemetry.NewScopedAPI("fetcher", tel)

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", UserAgent)
	client.SetHeader("accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("accept-language", "en-US,en;q=0.9")
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetTimeout(timeout)

	telemetry.InstrumentResty(client, tel)

	return StaticFetcher{
		http:    client,
		limiter: limiter,
		tel:     tel,
	}
}

// DumpTo writes every response the fetcher receives to output.
func (f StaticFetcher) DumpTo(output telemetry.DumpOutput) {
	telemetry.DumpResty(f.http, output)
}

func (f StaticFetcher) Fetch(ctx context.Context, product registry.Product) ([]byte, error) {
	err := f.limiter.Wait(ctx, product.URL)
	if err != nil {
		return nil, newFetchError(product, registry.StrategyStatic, fmt.Errorf("wait for host: %w", err))
	}

	res, err := f.http.R().
		SetContext(ctx).
		Get(product.URL)
	if err != nil {
		return nil, newFetchError(product, registry.StrategyStatic, err)
	}
	if !res.IsSuccess() {
		return nil, newFetchError(
			product,
			registry.StrategyStatic,
			fmt.Errorf("unexpected status %s", res.Status()),
		)
	}

	f.tel.ReportDebug(report_static_fetch, product.ID, len(res.Body()))
	return res.Body(), nil
}
