package archive

import (
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// retryTransport wraps an http.RoundTripper with rate limiting and
// exponential-backoff retry on transient failures (5xx, connection
// errors). This is the transport-layer retry spec.md §7 assigns sole
// ownership of to the layer below the core ("only the transport layer
// owns retry"), grounded on the teacher's L1Syncer.getSequencedLogs
// retry-with-backoff loop.
type retryTransport struct {
	base       http.RoundTripper
	limiter    *rate.Limiter
	maxRetries int
}

// NewRetryingClient builds an *http.Client whose RoundTripper paces
// requests at ratePerSecond and retries transient failures up to
// maxRetries times with exponential backoff.
func NewRetryingClient(ratePerSecond float64, maxRetries int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &retryTransport{
			base:       http.DefaultTransport,
			limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), int(math.Max(1, ratePerSecond))),
			maxRetries: maxRetries,
		},
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if werr := t.limiter.Wait(req.Context()); werr != nil {
			return nil, werr
		}

		if attempt > 0 && req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, berr
			}
			req.Body = body
		}

		resp, err = t.base.RoundTrip(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if err == nil {
			resp.Body.Close()
		}

		if attempt == t.maxRetries {
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	return resp, err
}
