// Package archive implements C4, the Archive Source: a paginated
// finalized-range fetch client against the bulk archive's HTTP endpoint
// (spec.md §4.4, §6).
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/ledgerwatch/log/v3"

	"github.com/indexkit/evmindex/errs"
	"github.com/indexkit/evmindex/fields"
	"github.com/indexkit/evmindex/gateway"
	"github.com/indexkit/evmindex/request"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Source fetches finalized batches and the archive's reported height.
type Source struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger
}

// New constructs an Archive Source against baseURL (e.g.
// https://archive.example/network), using client for transport. Retries
// and backoff live in the client's RoundTripper — the core only classifies
// the resulting error (spec.md §7: "Only the transport layer owns retry").
func New(baseURL string, client *http.Client, logger log.Logger) *Source {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Source{baseURL: baseURL, httpClient: client, logger: logger}
}

type heightResponse struct {
	Height uint64 `json:"height"`
}

// GetFinalizedHeight fetches GET /height (spec.md §4.4, §6).
func (s *Source) GetFinalizedHeight(ctx context.Context) (uint64, error) {
	var out heightResponse
	if err := s.getJSON(ctx, "/height", &out); err != nil {
		return 0, errs.Transport("archiveQuery:/height", err)
	}
	return out.Height, nil
}

type queryRequest struct {
	FromBlock        uint64           `json:"fromBlock"`
	ToBlock          *uint64          `json:"toBlock,omitempty"`
	IncludeAllBlocks bool             `json:"includeAllBlocks,omitempty"`
	Transactions     []wireTxCriterion  `json:"transactions,omitempty"`
	Logs             []wireLogCriterion `json:"logs,omitempty"`
}

type wireLogCriterion struct {
	Address []string   `json:"address,omitempty"`
	Topics  [][]string `json:"topics,omitempty"`
	Fields  fields.Resolved `json:"fieldSelection"`
}

type wireTxCriterion struct {
	To      []string `json:"to,omitempty"`
	From    []string `json:"from,omitempty"`
	Sighash []string `json:"sighash,omitempty"`
	Fields  fields.Resolved `json:"fieldSelection"`
}

type queryResponse struct {
	Data          [][]wireBlockData `json:"data"`
	NextBlock     uint64             `json:"nextBlock"`
	ArchiveHeight uint64             `json:"archiveHeight"`
}

type wireBlockData struct {
	Block        gateway.WireBlock        `json:"block"`
	Transactions []gateway.WireTransaction `json:"transactions"`
	Logs         []gateway.WireLog         `json:"logs"`
}

// GetFinalizedBatch implements C4's protocol (spec.md §4.4): submit one
// POST /query, flatten+map the response, and if the upstream omitted the
// trailing block, issue a follow-up header-only fetch to close the range.
func (s *Source) GetFinalizedBatch(ctx context.Context, br request.BatchRequest, resolved fields.Resolved) (*gateway.BatchResponse, error) {
	qreq := toQueryRequest(br, resolved)

	var qresp queryResponse
	if err := s.postJSON(ctx, "/query", qreq, &qresp); err != nil {
		return nil, errs.Transport("archiveQuery", err)
	}

	rangeTo := qresp.NextBlock - 1

	blocks := make([]gateway.FullBlockData, 0)
	for _, group := range qresp.Data {
		for _, bd := range group {
			wb := bd.Block
			wb.Transactions = bd.Transactions
			wb.Logs = bd.Logs
			fb, err := gateway.MapBlock(&wb)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, *fb)
		}
	}

	haveLast := len(blocks) > 0 && blocks[len(blocks)-1].Header.Height == rangeTo
	if !haveLast {
		stub, err := s.fetchHeaderOnly(ctx, rangeTo)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *stub)
	}

	return &gateway.BatchResponse{
		RangeFrom:   br.Range.From,
		RangeTo:     rangeTo,
		Blocks:      blocks,
		ChainHeight: qresp.ArchiveHeight,
	}, nil
}

// fetchHeaderOnly issues the single-height follow-up query from spec.md
// §4.4 step 4 (and scenario S2): includeAllBlocks true, header fields
// only, appending a stub block with no items.
func (s *Source) fetchHeaderOnly(ctx context.Context, height uint64) (*gateway.FullBlockData, error) {
	headerOnly := fields.Resolved{Block: fields.Mask{"hash": true, "number": true, "parentHash": true, "timestamp": true}}
	qreq := queryRequest{
		FromBlock:        height,
		ToBlock:          &height,
		IncludeAllBlocks: true,
		Logs:             []wireLogCriterion{{Fields: headerOnly}},
	}

	var qresp queryResponse
	if err := s.postJSON(ctx, "/query", qreq, &qresp); err != nil {
		return nil, errs.Transport("archiveQuery:blockHeight", err)
	}

	for _, group := range qresp.Data {
		for _, bd := range group {
			fb, err := gateway.MapBlock(&bd.Block)
			if err != nil {
				return nil, err
			}
			if fb.Header.Height != height {
				return nil, errs.Invariant("archive header-only fetch returned wrong height", map[string]interface{}{"wanted": height, "got": fb.Header.Height})
			}
			return gateway.StubHeader(fb.Header), nil
		}
	}
	return nil, errs.Invariant("archive returned no header for trailing block", map[string]interface{}{"blockHeight": height})
}

func toQueryRequest(br request.BatchRequest, resolved fields.Resolved) queryRequest {
	qreq := queryRequest{
		FromBlock:        br.Range.From,
		ToBlock:          br.Range.To,
		IncludeAllBlocks: br.Request.IncludeAllBlocks,
	}
	for _, l := range br.Request.Logs {
		qreq.Logs = append(qreq.Logs, wireLogCriterion{
			Address: hexAddresses(l.Address),
			Topics:  hexTopicLists(l.Topics),
			Fields:  resolved,
		})
	}
	for _, tx := range br.Request.Transactions {
		qreq.Transactions = append(qreq.Transactions, wireTxCriterion{
			To:      hexAddresses(tx.To),
			From:    hexAddresses(tx.From),
			Sighash: hexSighashes(tx.Sighash),
			Fields:  resolved,
		})
	}
	return qreq
}

func hexAddresses(addrs []gateway.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func hexTopicLists(topics [][]gateway.Hash) [][]string {
	if len(topics) == 0 {
		return nil
	}
	out := make([][]string, len(topics))
	for i, ts := range topics {
		row := make([]string, len(ts))
		for j, t := range ts {
			row[j] = t.Hex()
		}
		out[i] = row
	}
	return out
}

func hexSighashes(sighashes [][4]byte) []string {
	if len(sighashes) == 0 {
		return nil
	}
	out := make([]string, len(sighashes))
	for i, sh := range sighashes {
		out[i] = fmt.Sprintf("0x%x", sh[:])
	}
	return out
}

func (s *Source) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	return s.do(req, out)
}

func (s *Source) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, out)
}

func (s *Source) do(req *http.Request, out interface{}) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("archive returned %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
