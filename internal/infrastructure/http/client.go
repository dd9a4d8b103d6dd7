package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

const (
	packageName = "http"

	jsonRPCVersion = "2.0"
)

// requestID is process wide so concurrent clients never reuse an id.
var requestID atomic.Uint64

type client struct {
	httpClient *http.Client
	endpoint   string
}

func NewRPCClient(httpClient *http.Client, endpoint string) repository.RPCRepository {
	return &client{
		httpClient: httpClient,
		endpoint:   endpoint,
	}
}

type (
	rpcRequest struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  []any  `json:"params"`
		ID      uint64 `json:"id"`
	}

	rpcResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *uint64         `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *rpcErrorBody   `json:"error"`
	}

	rpcErrorBody struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
)

func (c *client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	funcName := util.FuncName()

	if params == nil {
		params = []any{}
	}
	req := rpcRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
		ID:      requestID.Add(1),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.ValidationError{Field: "params", Reason: err.Error()})
	}

	log.Debug().Str("method", method).Uint64("id", req.ID).Msg(util.WrapLogMessage(packageName, funcName, "request"))

	res, err := c.doRequest(ctx, body)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.NetworkError{Op: method, Err: err})
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.NetworkError{Op: method, Err: fmt.Errorf("error reading response body: %w", err)})
	}

	// Nodes and proxies may carry a JSON-RPC error object on a 4xx/5xx.
	var out rpcResponse
	decodeErr := json.Unmarshal(raw, &out)
	if decodeErr == nil && out.Error != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.RPCError{Code: out.Error.Code, Message: out.Error.Message})
	}
	if res.StatusCode != http.StatusOK {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.NetworkError{Op: method, Err: fmt.Errorf("status code not 200: %d", res.StatusCode)})
	}
	if decodeErr != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.NetworkError{Op: method, Err: fmt.Errorf("error decoding response body: %w", decodeErr)})
	}

	if out.ID == nil || *out.ID != req.ID {
		return nil, util.WrapErrorForLog(packageName, funcName, &model.RPCError{Message: fmt.Sprintf("response id does not match request id %d", req.ID)})
	}

	if len(out.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return out.Result, nil
}

func (c *client) doRequest(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error do request: %w", err)
	}

	return resp, nil
}
