package flashbots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/httpclient"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC request through the limiter and breaker.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	waited, err := c.limiter.Wait(ctx)
	if err != nil {
		return nil, apperror.New(apperror.CodeRelayTimeout,
			apperror.WithCause(err),
			apperror.WithContext(c.cfg.Name+": rate limiter"))
	}
	if waited > 0 {
		c.logger.Debug(ctx, "relay request throttled", "relay", c.cfg.Name, "method", method, "waited", waited)
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  []any{params},
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeBundleInvalid,
			apperror.WithCause(err),
			apperror.WithContext("encode "+method))
	}

	signature, err := c.sign(body)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.post(ctx, method, body, signature)
	})

	outcome := "ok"
	if err != nil {
		outcome = string(apperror.GetCode(err))
	}
	attrs := metric.WithAttributes(
		attribute.String("relay", c.cfg.Name),
		attribute.String("method", method),
		attribute.String("result", outcome),
	)
	c.metrics.requests.Add(ctx, 1, attrs)
	c.metrics.latency.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
	return result, err
}

func (c *Client) post(ctx context.Context, method string, body []byte, signature string) (json.RawMessage, error) {
	resp, err := c.http.NewRequestWithOptions(
		httpclient.WithLabels(
			httpclient.NewLabel("relay", c.cfg.Name),
			httpclient.NewLabel("method", method),
		),
	).
		SetBody(body).
		SetHeader(SignatureHeader, signature).
		Post(ctx, c.cfg.URL)
	if err != nil {
		code := apperror.CodeRelayUnavailable
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			code = apperror.CodeRelayTimeout
		}
		return nil, apperror.New(code,
			apperror.WithCause(err),
			apperror.WithContext(c.cfg.Name+": "+method))
	}

	if resp.StatusCode >= 500 {
		return nil, apperror.New(apperror.CodeRelayUnavailable,
			apperror.WithContext(fmt.Sprintf("%s: %s HTTP %d", c.cfg.Name, method, resp.StatusCode)))
	}

	var out rpcResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		if resp.IsError() {
			return nil, apperror.New(apperror.CodeRelayRejected,
				apperror.WithContext(fmt.Sprintf("%s: %s HTTP %d: %s", c.cfg.Name, method, resp.StatusCode, resp.String())))
		}
		return nil, apperror.New(apperror.CodeRelayMalformed,
			apperror.WithCause(err),
			apperror.WithContext(c.cfg.Name+": "+method))
	}
	if out.Error != nil {
		return nil, apperror.New(apperror.CodeRelayRejected,
			apperror.WithCause(out.Error),
			apperror.WithContext(c.cfg.Name+": "+method+": "+out.Error.Message))
	}
	if len(out.Result) == 0 || string(out.Result) == "null" {
		return nil, apperror.New(apperror.CodeRelayMalformed,
			apperror.WithContext(c.cfg.Name+": "+method+" returned no result"))
	}
	return out.Result, nil
}

// sign produces the X-Flashbots-Signature value: the searcher address and an
// EIP-191 signature over the hex keccak256 digest of the body.
func (c *Client) sign(body []byte) (string, error) {
	digest := crypto.Keccak256Hash(body).Hex()
	sig, err := c.auth.SignHash(accounts.TextHash([]byte(digest)))
	if err != nil {
		return "", apperror.New(apperror.CodeSigningFailed,
			apperror.WithCause(err),
			apperror.WithContext("relay request signature"))
	}
	return c.auth.Address().Hex() + ":" + hexutil.Encode(sig), nil
}
