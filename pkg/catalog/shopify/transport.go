package shopify

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitedTransport wraps an http.RoundTripper with rate limiting
type rateLimitedTransport struct {
	transport http.RoundTripper
	limiter   *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.transport.RoundTrip(req)
}

// newRateLimitedHTTPClient creates an HTTP client that issues at most
// perSecond requests per second on average.
func newRateLimitedHTTPClient(base http.RoundTripper, perSecond float64, burst int, timeout time.Duration) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &rateLimitedTransport{
			transport: base,
			limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		},
	}
}
