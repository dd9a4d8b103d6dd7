package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
)

const testEndpoint = "http://rpc.test"

// mockTransport answers every request with Response, or with the body built by
// Reply from the decoded request when Reply is set.
type mockTransport struct {
	mu       sync.Mutex
	Req      *http.Request
	Body     []byte
	Response *http.Response
	Reply    func(req rpcRequest) (int, string)
	Err      error
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Req = req
	if req.Body != nil {
		m.Body, _ = io.ReadAll(req.Body)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Reply != nil {
		var decoded rpcRequest
		if err := json.Unmarshal(m.Body, &decoded); err != nil {
			return nil, err
		}
		status, body := m.Reply(decoded)
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}, nil
	}
	return m.Response, nil
}

func result(v string) func(req rpcRequest) (int, string) {
	return func(req rpcRequest) (int, string) {
		return http.StatusOK, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, v)
	}
}

func TestRPC_Call(t *testing.T) {
	tests := []struct {
		name           string
		transport      *mockTransport
		want           json.RawMessage
		wantErrMessage string
		wantErr        any
	}{
		{
			name:      "success",
			transport: &mockTransport{Reply: result(`"0x14a34"`)},
			want:      json.RawMessage(`"0x14a34"`),
		},
		{
			name:      "null result",
			transport: &mockTransport{Reply: result(`null`)},
			want:      json.RawMessage(`null`),
		},
		{
			name: "missing result is null",
			transport: &mockTransport{Reply: func(req rpcRequest) (int, string) {
				return http.StatusOK, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d}`, req.ID)
			}},
			want: json.RawMessage(`null`),
		},
		{
			name: "error - rpc error object",
			transport: &mockTransport{Reply: func(req rpcRequest) (int, string) {
				return http.StatusOK, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32000,"message":"nonce too low"}}`, req.ID)
			}},
			wantErrMessage: "http.Call: rpc error -32000: nonce too low",
			wantErr:        new(*model.RPCError),
		},
		{
			name: "error - id mismatch",
			transport: &mockTransport{Reply: func(req rpcRequest) (int, string) {
				return http.StatusOK, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"0x1"}`, req.ID+1000)
			}},
			wantErr: new(*model.RPCError),
		},
		{
			name: "error - rpc error object on non-200 status",
			transport: &mockTransport{Reply: func(req rpcRequest) (int, string) {
				return http.StatusTooManyRequests, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32005,"message":"rate limited"}}`, req.ID)
			}},
			wantErrMessage: "http.Call: rpc error -32005: rate limited",
			wantErr:        new(*model.RPCError),
		},
		{
			name: "error - status code not 200 with empty envelope",
			transport: &mockTransport{Response: &http.Response{
				StatusCode: http.StatusServiceUnavailable,
				Body:       io.NopCloser(strings.NewReader(`{}`)),
			}},
			wantErrMessage: "http.Call: network error in eth_chainId: status code not 200: 503",
			wantErr:        new(*model.NetworkError),
		},
		{
			name: "error - status code not 200",
			transport: &mockTransport{Response: &http.Response{
				StatusCode: http.StatusBadGateway,
				Body:       io.NopCloser(strings.NewReader(`bad gateway`)),
			}},
			wantErrMessage: "http.Call: network error in eth_chainId: status code not 200: 502",
			wantErr:        new(*model.NetworkError),
		},
		{
			name: "error - invalid json",
			transport: &mockTransport{Response: &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`invalid json`)),
			}},
			wantErrMessage: "http.Call: network error in eth_chainId: error decoding response body: invalid character 'i' looking for beginning of value",
			wantErr:        new(*model.NetworkError),
		},
		{
			name:      "error - transport failure",
			transport: &mockTransport{Err: errors.New("connection refused")},
			wantErr:   new(*model.NetworkError),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewRPCClient(&http.Client{Transport: tt.transport}, testEndpoint)
			res, err := c.Call(context.Background(), "eth_chainId")

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorAs(t, err, tt.wantErr)
				if tt.wantErrMessage != "" {
					assert.EqualError(t, err, tt.wantErrMessage)
				}
				return
			}

			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, res); diff != "" {
				t.Errorf("Call() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRPC_CallRequestShape(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{Reply: result(`"0x0"`)}
	c := NewRPCClient(&http.Client{Transport: transport}, testEndpoint)

	_, err := c.Call(context.Background(), "eth_getBalance", "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "latest")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, transport.Req.Method)
	assert.Equal(t, "application/json", transport.Req.Header.Get("Content-Type"))
	assert.Equal(t, testEndpoint, transport.Req.URL.String())

	var sent map[string]any
	require.NoError(t, json.Unmarshal(transport.Body, &sent))
	assert.Equal(t, "2.0", sent["jsonrpc"])
	assert.Equal(t, "eth_getBalance", sent["method"])
	assert.Equal(t, []any{"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "latest"}, sent["params"])

	_, err = c.Call(context.Background(), "eth_gasPrice")
	require.NoError(t, err)
	assert.Contains(t, string(transport.Body), `"params":[]`)
}

func TestRPC_CallIDsAreUnique(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen = map[uint64]bool{}
	)
	transport := &mockTransport{Reply: func(req rpcRequest) (int, string) {
		mu.Lock()
		seen[req.ID] = true
		mu.Unlock()
		return result(`"0x1"`)(req)
	}}
	c := NewRPCClient(&http.Client{Transport: transport}, testEndpoint)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Call(context.Background(), "eth_blockNumber")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
}
