package rpchttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ipapp-go/ipapp/internal/secret"
	"github.com/ipapp-go/ipapp/rpc"
	"github.com/ipapp-go/ipapp/tracer"
	"github.com/ipapp-go/ipapp/tracer/ext"
)

// ClientConfig tunes a JSON-RPC HTTP client.
type ClientConfig struct {
	// URL is the JSON-RPC endpoint calls are POSTed to.
	URL string
	// Timeout bounds one call end to end, on top of whatever deadline the
	// caller's ctx already carries (spec.md §5 "every external-call
	// surface accepts a timeout").
	Timeout time.Duration
	// PropagateTrace injects the active span's B3 headers into every
	// outbound request (spec.md §6 "B3 headers propagated on both ingress
	// and egress when present").
	PropagateTrace bool
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// Client is the egress half of the JSON-RPC transport: it POSTs single
// envelopes (Call/Notify) to a remote endpoint, wraps every call in a
// CLIENT-kind span, and carries the caller's trace across the wire via B3
// headers so the remote server's spans join the same trace.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

type clientRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      string      `json:"id,omitempty"`
}

type clientResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *clientError    `json:"error"`
	ID      json.RawMessage `json:"id"`
}

type clientError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewClient builds a JSON-RPC HTTP client. httpClient may be nil, in
// which case a dedicated client with the configured timeout is used.
func NewClient(cfg ClientConfig, httpClient *http.Client) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Call POSTs one request envelope and decodes the reply into result
// (pass nil to discard it). A server-side error envelope comes back as an
// *rpc.Error carrying the server's own code and kind.
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := fmt.Sprintf("%d", time.Now().UnixNano())
	raw, err := c.roundTrip(ctx, clientRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	if err != nil {
		return err
	}

	var resp clientResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("rpchttp: decode response: %w", err)
	}
	if resp.Error != nil {
		return rpc.ErrorFromCode(resp.Error.Code, resp.Error.Message, resp.Error.Data)
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("rpchttp: decode result: %w", err)
	}
	return nil
}

// Notify POSTs a notification (no id): the server executes the method but
// sends no response body back (spec.md §4.6).
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	_, err := c.roundTrip(ctx, clientRequest{JSONRPC: "2.0", Method: method, Params: params})
	return err
}

func (c *Client) roundTrip(ctx context.Context, env clientRequest) (body []byte, err error) {
	span, ctx := tracer.Start(ctx, "rpc::out::"+env.Method, tracer.WithKind(ext.SpanKindClient))
	defer func() { span.Finish(err) }()
	span.Tag("rpc.method", env.Method)
	span.SetTagForAdapter(ext.AdapterRequests, "http.url", secret.MaskURL(c.cfg.URL))

	buf, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("rpchttp: marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.URL, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("rpchttp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.PropagateTrace {
		for k, vs := range span.ToHeaders() {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpchttp: post: %w", err)
	}
	defer resp.Body.Close()

	span.SetTagForAdapter(ext.AdapterRequests, "http.status_code", fmt.Sprintf("%d", resp.StatusCode))
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rpchttp: read response: %w", err)
	}
	return out, nil
}
