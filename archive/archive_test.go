package archive_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/indexkit/evmindex/archive"
	"github.com/indexkit/evmindex/fields"
	"github.com/indexkit/evmindex/gateway"
	"github.com/indexkit/evmindex/request"
	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"
)

// TestTrailingStub verifies scenario S2 from spec.md §8: the archive
// returns no data for the requested range and the framework backfills a
// header-only stub block at range.to.
func TestTrailingStub(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)

		if calls == 1 {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data":          [][]interface{}{},
				"nextBlock":     51,
				"archiveHeight": 100,
			})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": [][]interface{}{
				{
					map[string]interface{}{
						"block": map[string]interface{}{
							"number":     "0x32",
							"hash":       "0xaa",
							"parentHash": "0xbb",
							"timestamp":  "0x1",
						},
					},
				},
			},
			"nextBlock":     51,
			"archiveHeight": 100,
		})
	}))
	defer srv.Close()

	src := archive.New(srv.URL, srv.Client(), log.Root())
	to := uint64(50)
	br := request.BatchRequest{Range: gateway.Range{From: 40, To: &to}}
	resp, err := src.GetFinalizedBatch(context.Background(), br, fields.Resolve(nil))
	require.NoError(t, err)
	require.Equal(t, uint64(50), resp.RangeTo)
	require.Len(t, resp.Blocks, 1)
	require.Equal(t, uint64(50), resp.Blocks[0].Header.Height)
	require.Empty(t, resp.Blocks[0].Items)
	require.Equal(t, 2, calls)
}
