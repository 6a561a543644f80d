package archive_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/indexkit/evmindex/archive"
)

// TestRetryingClientRecoversFromTransientFailure verifies the transport
// retries a 500 response and succeeds once the upstream recovers (spec.md
// §7: transport layer owns retry with exponential backoff).
func TestRetryingClientRecoversFromTransientFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := archive.NewRetryingClient(1000, 5, 5*time.Second)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, calls)
}
