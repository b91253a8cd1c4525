// Package flashbots implements the relay JSON-RPC dialect used by
// Flashbots-compatible block builders.
package flashbots

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	bundleApp "github.com/fd1az/arbitrage-pipeline/business/bundle/app"
	bundle "github.com/fd1az/arbitrage-pipeline/business/bundle/domain"
	"github.com/fd1az/arbitrage-pipeline/business/submission/app"
	"github.com/fd1az/arbitrage-pipeline/business/submission/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/circuitbreaker"
	"github.com/fd1az/arbitrage-pipeline/internal/httpclient"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
	"github.com/fd1az/arbitrage-pipeline/internal/ratelimit"
)

const (
	tracerName = "github.com/fd1az/arbitrage-pipeline/business/submission/infra/flashbots"
	meterName  = "github.com/fd1az/arbitrage-pipeline/business/submission/infra/flashbots"

	methodSendBundle  = "eth_sendBundle"
	methodCallBundle  = "eth_callBundle"
	methodBundleStats = "flashbots_getBundleStatsV2"

	// SignatureHeader carries "address:signature" over the request body.
	SignatureHeader = "X-Flashbots-Signature"

	defaultTimeout           = 5 * time.Second
	defaultRequestsPerMinute = 600
)

var (
	_ app.Relay           = (*Client)(nil)
	_ bundleApp.Simulator = (*Client)(nil)
)

// AuthSigner signs relay request digests. It identifies the searcher, not the
// executor account.
type AuthSigner interface {
	Address() common.Address
	SignHash(hash []byte) ([]byte, error)
}

// Config holds one relay endpoint's settings.
type Config struct {
	Name              string
	URL               string
	Timeout           time.Duration
	RequestsPerMinute int
}

type clientMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// Client talks to one relay.
type Client struct {
	cfg     Config
	http    httpclient.Client
	auth    AuthSigner
	limiter *ratelimit.Limiter
	breaker *circuitbreaker.CircuitBreaker[json.RawMessage]
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *clientMetrics

	nextID atomic.Uint64
	mu     sync.Mutex
	stats  domain.RelayStats
}

// NewClient creates a relay client.
func NewClient(cfg Config, auth AuthSigner, log logger.LoggerInterface) (*Client, error) {
	if cfg.URL == "" {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext("relay url is empty"))
	}
	if auth == nil {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext("relay "+cfg.Name+" needs an auth signer"))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}

	tracer := otel.Tracer(tracerName)
	hc, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("relay-"+cfg.Name),
		httpclient.WithRequestTimeout(cfg.Timeout),
		httpclient.WithTraceOptions(tracer, httpclient.TraceRequest, httpclient.TraceResponse, httpclient.TraceHeaders),
		httpclient.WithRedactedHeaders(SignatureHeader),
		httpclient.WithHeaders(map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	bcfg := circuitbreaker.DefaultConfig("relay-" + cfg.Name)
	// A relay refusing a bundle is a healthy relay.
	bcfg.IsSuccessful = func(err error) bool {
		return err == nil || apperror.HasCode(err, apperror.CodeRelayRejected)
	}

	c := &Client{
		cfg:     cfg,
		http:    hc,
		auth:    auth,
		limiter: ratelimit.New(cfg.RequestsPerMinute),
		breaker: circuitbreaker.New[json.RawMessage](bcfg),
		logger:  log,
		tracer:  tracer,
		stats:   domain.RelayStats{Relay: cfg.Name},
	}
	if err := c.initMetrics(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initMetrics() error {
	meter := otel.Meter(meterName)

	requests, err := meter.Int64Counter(
		"relay_requests_total",
		metric.WithDescription("Relay JSON-RPC requests by method and result"),
	)
	if err != nil {
		return err
	}

	latency, err := meter.Float64Histogram(
		"relay_request_latency_ms",
		metric.WithDescription("Relay JSON-RPC round trip"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	c.metrics = &clientMetrics{requests: requests, latency: latency}
	return nil
}

// Name returns the relay name.
func (c *Client) Name() string { return c.cfg.Name }

// Healthy reports whether the relay's breaker is closed.
func (c *Client) Healthy() bool { return !c.breaker.IsOpen() }

// Stats returns a snapshot of this relay's submission statistics.
func (c *Client) Stats() domain.RelayStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

type sendBundleParams struct {
	Txs          []string `json:"txs"`
	BlockNumber  string   `json:"blockNumber"`
	MinTimestamp int64    `json:"minTimestamp,omitempty"`
	MaxTimestamp int64    `json:"maxTimestamp,omitempty"`
}

type sendBundleResult struct {
	BundleHash string `json:"bundleHash"`
}

// SendBundle submits b for inclusion in its target block.
func (c *Client) SendBundle(ctx context.Context, b *bundle.Bundle) (string, error) {
	ctx, span := c.tracer.Start(ctx, "relay.send_bundle",
		trace.WithAttributes(
			attribute.String("relay", c.cfg.Name),
			attribute.String("bundle.id", b.ID.String()),
			attribute.Int64("target_block", int64(b.TargetBlock)),
		),
	)
	defer span.End()

	txs, err := b.RawTxs()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return "", err
	}

	started := time.Now()
	raw, err := c.call(ctx, methodSendBundle, sendBundleParams{
		Txs:          txs,
		BlockNumber:  hexutil.EncodeUint64(b.TargetBlock),
		MinTimestamp: b.MinTimestamp.Unix(),
		MaxTimestamp: b.MaxTimestamp.Unix(),
	})

	var hash string
	if err == nil {
		var res sendBundleResult
		if uerr := json.Unmarshal(raw, &res); uerr != nil || res.BundleHash == "" {
			err = apperror.New(apperror.CodeRelayMalformed,
				apperror.WithCause(uerr),
				apperror.WithContext(c.cfg.Name+": "+methodSendBundle+" without bundle hash"))
		}
		hash = res.BundleHash
	}

	c.observe(time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.GetCode(err)))
		return "", err
	}

	span.SetAttributes(attribute.String("bundle.hash", hash))
	span.SetStatus(codes.Ok, "accepted")
	c.logger.Debug(ctx, "bundle accepted by relay",
		"relay", c.cfg.Name,
		"bundle_id", b.ID.String(),
		"bundle_hash", hash,
	)
	return hash, nil
}

type callBundleParams struct {
	Txs              []string `json:"txs"`
	BlockNumber      string   `json:"blockNumber"`
	StateBlockNumber string   `json:"stateBlockNumber"`
}

type callBundleResult struct {
	BundleHash   string `json:"bundleHash"`
	CoinbaseDiff string `json:"coinbaseDiff"`
	Results      []struct {
		TxHash  string `json:"txHash"`
		GasUsed uint64 `json:"gasUsed"`
		Value   string `json:"value"`
		Error   string `json:"error"`
		Revert  string `json:"revert"`
	} `json:"results"`
}

// Simulate dry-runs b on top of the latest state.
func (c *Client) Simulate(ctx context.Context, b *bundle.Bundle) (bundle.CallBundleResult, error) {
	ctx, span := c.tracer.Start(ctx, "relay.call_bundle",
		trace.WithAttributes(
			attribute.String("relay", c.cfg.Name),
			attribute.String("bundle.id", b.ID.String()),
		),
	)
	defer span.End()

	txs, err := b.RawTxs()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return bundle.CallBundleResult{}, err
	}

	raw, err := c.call(ctx, methodCallBundle, callBundleParams{
		Txs:              txs,
		BlockNumber:      hexutil.EncodeUint64(b.TargetBlock),
		StateBlockNumber: "latest",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.GetCode(err)))
		return bundle.CallBundleResult{}, err
	}

	out, err := decodeCallBundle(raw)
	if err != nil {
		err = apperror.New(apperror.CodeRelayMalformed,
			apperror.WithCause(err),
			apperror.WithContext(c.cfg.Name+": "+methodCallBundle))
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed")
		return bundle.CallBundleResult{}, err
	}

	span.SetAttributes(attribute.Int("results", len(out.Results)))
	span.SetStatus(codes.Ok, "simulated")
	return out, nil
}

func decodeCallBundle(raw json.RawMessage) (bundle.CallBundleResult, error) {
	var res callBundleResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return bundle.CallBundleResult{}, err
	}

	out := bundle.CallBundleResult{
		BundleHash:   res.BundleHash,
		CoinbaseDiff: new(big.Int),
		Results:      make([]bundle.CallResult, len(res.Results)),
	}
	if res.CoinbaseDiff != "" {
		if _, ok := out.CoinbaseDiff.SetString(res.CoinbaseDiff, 10); !ok {
			return bundle.CallBundleResult{}, fmt.Errorf("coinbaseDiff %q is not a number", res.CoinbaseDiff)
		}
	}
	for i, r := range res.Results {
		cr := bundle.CallResult{TxHash: r.TxHash, GasUsed: r.GasUsed, Error: r.Error, Revert: r.Revert}
		if r.Value != "" && r.Value != "0x" {
			ret, err := hexutil.Decode(r.Value)
			if err != nil {
				return bundle.CallBundleResult{}, fmt.Errorf("result %d value: %w", i, err)
			}
			cr.Return = ret
		}
		out.Results[i] = cr
	}
	return out, nil
}

type bundleStatsParams struct {
	BundleHash  string `json:"bundleHash"`
	BlockNumber string `json:"blockNumber"`
}

type bundleStatsResult struct {
	IsSimulated            bool      `json:"isSimulated"`
	IsHighPriority         bool      `json:"isHighPriority"`
	SimulatedAt            time.Time `json:"simulatedAt"`
	ReceivedAt             time.Time `json:"receivedAt"`
	ConsideredByBuildersAt []struct {
		Pubkey    string    `json:"pubkey"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"consideredByBuildersAt"`
}

// BundleStats asks the relay how it handled a submitted bundle.
func (c *Client) BundleStats(ctx context.Context, bundleHash string, block uint64) (domain.BundleStats, error) {
	ctx, span := c.tracer.Start(ctx, "relay.bundle_stats",
		trace.WithAttributes(
			attribute.String("relay", c.cfg.Name),
			attribute.String("bundle.hash", bundleHash),
		),
	)
	defer span.End()

	raw, err := c.call(ctx, methodBundleStats, bundleStatsParams{
		BundleHash:  bundleHash,
		BlockNumber: hexutil.EncodeUint64(block),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.GetCode(err)))
		return domain.BundleStats{}, err
	}

	var res bundleStatsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.BundleStats{}, apperror.New(apperror.CodeRelayMalformed,
			apperror.WithCause(err),
			apperror.WithContext(c.cfg.Name+": "+methodBundleStats))
	}

	span.SetStatus(codes.Ok, "fetched")
	return domain.BundleStats{
		IsSimulated:    res.IsSimulated,
		IsHighPriority: res.IsHighPriority,
		SimulatedAt:    res.SimulatedAt,
		ReceivedAt:     res.ReceivedAt,
		SentToBuilders: len(res.ConsideredByBuildersAt),
	}, nil
}

func (c *Client) observe(latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Observe(latency, err == nil, apperror.HasCode(err, apperror.CodeRelayRejected), err)
}
