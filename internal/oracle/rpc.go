package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// RPCSource fetches price accounts over Solana JSON-RPC using
// getAccountInfo with base64 encoding. The response's context slot doubles
// as the current slot for staleness checks, so one request yields everything
// a read needs.
type RPCSource struct {
	endpoint   string
	httpClient *http.Client
}

// NewRPCSource creates an RPCSource against the given RPC endpoint, e.g.
// "https://api.mainnet-beta.solana.com". A non-positive timeout falls back
// to 15 seconds.
func NewRPCSource(endpoint string, timeout time.Duration) *RPCSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RPCSource{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// rpcRequest is the JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcResponse is the JSON-RPC 2.0 response envelope for getAccountInfo.
type rpcResponse struct {
	Result *struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value *struct {
			Owner string   `json:"owner"`
			Data  []string `json:"data"` // [payload, encoding]
		} `json:"value"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Fetch retrieves the account at address. A missing account maps to
// domain.ErrNotFound.
func (s *RPCSource) Fetch(ctx context.Context, address string) (Account, error) {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getAccountInfo",
		Params: []any{
			address,
			map[string]string{"encoding": "base64"},
		},
	})
	if err != nil {
		return Account{}, fmt.Errorf("oracle: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Account{}, fmt.Errorf("oracle: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return Account{}, fmt.Errorf("oracle: rpc call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Account{}, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Account{}, fmt.Errorf("oracle: rpc status %d: %s", resp.StatusCode, string(body))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Account{}, fmt.Errorf("oracle: decode response: %w", err)
	}
	if parsed.Error != nil {
		return Account{}, fmt.Errorf("oracle: rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if parsed.Result == nil || parsed.Result.Value == nil {
		return Account{}, fmt.Errorf("oracle: account %s: %w", address, domain.ErrNotFound)
	}
	if len(parsed.Result.Value.Data) < 1 {
		return Account{}, fmt.Errorf("oracle: account %s: empty data", address)
	}

	data, err := base64.StdEncoding.DecodeString(parsed.Result.Value.Data[0])
	if err != nil {
		return Account{}, fmt.Errorf("oracle: decode account data: %w", err)
	}

	return Account{
		Address: address,
		Owner:   parsed.Result.Value.Owner,
		Data:    data,
		Slot:    parsed.Result.Context.Slot,
	}, nil
}

// Compile-time interface check.
var _ FeedSource = (*RPCSource)(nil)
