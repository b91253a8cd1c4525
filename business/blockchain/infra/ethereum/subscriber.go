// Package ethereum provides Ethereum blockchain infrastructure adapters.
package ethereum

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/arbitrage-pipeline/business/blockchain/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/circuitbreaker"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

const (
	tracerName = "github.com/fd1az/arbitrage-pipeline/business/blockchain/infra/ethereum"
	meterName  = "github.com/fd1az/arbitrage-pipeline/business/blockchain/infra/ethereum"
)

const (
	sourceWS   = "ws"
	sourceHTTP = "http"
)

var errStalled = errors.New("no new head within stall timeout")

// headClient is the slice of ethclient.Client the subscriber needs.
type headClient interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (geth.Subscription, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

type dialFunc func(ctx context.Context, url string) (headClient, error)

func dialEthclient(ctx context.Context, url string) (headClient, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// SubscriberConfig holds configuration for the Ethereum subscriber.
type SubscriberConfig struct {
	WSURL          string
	HTTPURL        string
	PollInterval   time.Duration // HTTP polling cadence
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxReconnects  int           // WS attempts before polling over HTTP; 0 = never give up
	WSRetryAfter   time.Duration // how long to poll before trying WS again
	StallTimeout   time.Duration // 0 disables stall detection
	ReorgDepth     int
	BufferSize     int
}

// DefaultSubscriberConfig returns sensible defaults.
func DefaultSubscriberConfig(wsURL, httpURL string) SubscriberConfig {
	return SubscriberConfig{
		WSURL:          wsURL,
		HTTPURL:        httpURL,
		PollInterval:   2 * time.Second,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		MaxReconnects:  10,
		WSRetryAfter:   time.Minute,
		StallTimeout:   30 * time.Second,
		ReorgDepth:     domain.DefaultReorgDepth,
		BufferSize:     4,
	}
}

// backoff returns the delay before reconnect attempt n (1-based).
func (c SubscriberConfig) backoff(n int) time.Duration {
	d := c.InitialBackoff
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < n && d < c.MaxBackoff; i++ {
		d *= 2
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

type subscriberMetrics struct {
	headsReceived   metric.Int64Counter
	streamErrors    metric.Int64Counter
	connectionState metric.Int64Gauge
	headLatency     metric.Float64Histogram
	httpFallbacks   metric.Int64Counter
	reorgs          metric.Int64Counter
	missedHeads     metric.Int64Counter
}

// Subscriber streams canonical heads. It prefers a WebSocket newHeads
// subscription, reconnecting with exponential backoff, and polls over HTTP
// once reconnects are exhausted. Heads from either source pass through a
// HeadTracker so consumers see each height once, with reorgs flagged.
type Subscriber struct {
	config SubscriberConfig
	logger logger.LoggerInterface
	dial   dialFunc

	mu   sync.Mutex
	ws   headClient
	http headClient

	tracker *domain.HeadTracker // owned by the run goroutine

	state      domain.ConnectionState
	stateMu    sync.RWMutex
	usingHTTP  atomic.Bool
	lastBlock  atomic.Uint64
	lastHeadAt atomic.Int64
	reconnects atomic.Int32
	reorgs     atomic.Int32

	blocks  chan *domain.Block
	closeMu sync.Mutex
	closed  bool
	cancel  context.CancelFunc
	running sync.WaitGroup

	wsCB   *circuitbreaker.CircuitBreaker[*types.Header]
	httpCB *circuitbreaker.CircuitBreaker[*types.Header]

	tracer  trace.Tracer
	metrics *subscriberMetrics
}

// NewSubscriber creates a new Ethereum block subscriber.
func NewSubscriber(cfg SubscriberConfig, log logger.LoggerInterface) (*Subscriber, error) {
	return newSubscriber(cfg, log, dialEthclient)
}

func newSubscriber(cfg SubscriberConfig, log logger.LoggerInterface, dial dialFunc) (*Subscriber, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	s := &Subscriber{
		config:  cfg,
		logger:  log,
		dial:    dial,
		tracker: domain.NewHeadTracker(cfg.ReorgDepth),
		state:   domain.StateDisconnected,
		blocks:  make(chan *domain.Block, cfg.BufferSize),
		tracer:  otel.Tracer(tracerName),
	}
	if err := s.initMetrics(); err != nil {
		return nil, err
	}

	onChange := func(name string, from, to gobreaker.State) {
		s.logger.Info(context.Background(), "circuit breaker state change",
			"breaker", name, "from", from.String(), "to", to.String())
	}
	wsCfg := circuitbreaker.DefaultConfig("eth-ws")
	wsCfg.OnStateChange = onChange
	s.wsCB = circuitbreaker.New[*types.Header](wsCfg)
	httpCfg := circuitbreaker.DefaultConfig("eth-http")
	httpCfg.OnStateChange = onChange
	s.httpCB = circuitbreaker.New[*types.Header](httpCfg)

	return s, nil
}

func (s *Subscriber) initMetrics() error {
	meter := otel.Meter(meterName)
	m := &subscriberMetrics{}
	var err error

	if m.headsReceived, err = meter.Int64Counter("eth_heads_received_total",
		metric.WithDescription("Canonical heads delivered to consumers"),
		metric.WithUnit("{block}")); err != nil {
		return err
	}
	if m.streamErrors, err = meter.Int64Counter("eth_stream_errors_total",
		metric.WithDescription("Head stream failures by source"),
		metric.WithUnit("{error}")); err != nil {
		return err
	}
	if m.connectionState, err = meter.Int64Gauge("eth_connection_state",
		metric.WithDescription("0=disconnected, 1=connecting, 2=connected, 3=reconnecting")); err != nil {
		return err
	}
	if m.headLatency, err = meter.Float64Histogram("eth_head_latency_ms",
		metric.WithDescription("Delay between block timestamp and receipt"),
		metric.WithUnit("ms")); err != nil {
		return err
	}
	if m.httpFallbacks, err = meter.Int64Counter("eth_http_fallback_total",
		metric.WithDescription("Switches from WebSocket to HTTP polling")); err != nil {
		return err
	}
	if m.reorgs, err = meter.Int64Counter("eth_reorgs_total",
		metric.WithDescription("Heads that replaced an already delivered head")); err != nil {
		return err
	}
	if m.missedHeads, err = meter.Int64Counter("eth_missed_heads_total",
		metric.WithDescription("Heights skipped between consecutive heads"),
		metric.WithUnit("{block}")); err != nil {
		return err
	}

	s.metrics = m
	return nil
}

// Subscribe connects and starts streaming heads. It fails only when neither
// endpoint can be dialed. When the consumer falls behind the oldest buffered
// block is dropped. Subscribing again returns the same channel.
func (s *Subscriber) Subscribe(ctx context.Context) (<-chan *domain.Block, error) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil, apperror.New(apperror.CodeEthereumConnectionFailed,
			apperror.WithContext("subscriber is closed"))
	}
	if s.cancel != nil {
		return s.blocks, nil
	}

	ctx, span := s.tracer.Start(ctx, "eth.subscribe",
		trace.WithAttributes(
			attribute.Bool("ws", s.config.WSURL != ""),
			attribute.Bool("http", s.config.HTTPURL != ""),
		))
	defer span.End()

	s.setState(domain.StateConnecting)

	var (
		first   headClient
		viaHTTP bool
		wsErr   error
	)
	if s.config.WSURL != "" {
		first, wsErr = s.dial(ctx, s.config.WSURL)
	}
	if first == nil {
		s.logger.Warn(ctx, "ws unavailable, polling over http", "error", wsErr)
		span.AddEvent("ws_unavailable")
		if _, err := s.httpClient(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "no endpoint reachable")
			s.setState(domain.StateDisconnected)
			return nil, apperror.New(apperror.CodeEthereumConnectionFailed,
				apperror.WithCause(errors.Join(wsErr, err)),
				apperror.WithContext("failed to connect via WS and HTTP"))
		}
		viaHTTP = true
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.running.Go(func() { s.run(runCtx, first, viaHTTP) })

	span.SetStatus(codes.Ok, "subscribed")
	return s.blocks, nil
}

// run supervises the head stream until Close.
func (s *Subscriber) run(ctx context.Context, ws headClient, viaHTTP bool) {
	attempt := 0
	for ctx.Err() == nil {
		if viaHTTP {
			s.pollHTTP(ctx)
			viaHTTP = false
			attempt = 0
			if s.config.WSURL == "" {
				return
			}
			continue
		}

		delivered, err := s.streamWS(ctx, ws)
		ws = nil
		if ctx.Err() != nil {
			return
		}
		if delivered {
			attempt = 0
		}
		attempt++
		s.metrics.streamErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("source", sourceWS)))
		s.reconnects.Add(1)

		if s.config.MaxReconnects > 0 && attempt >= s.config.MaxReconnects && s.config.HTTPURL != "" {
			s.logger.Warn(ctx, "ws reconnects exhausted, polling over http",
				"attempts", attempt, "error", err)
			s.metrics.httpFallbacks.Add(ctx, 1)
			viaHTTP = true
			continue
		}

		delay := s.config.backoff(attempt)
		s.logger.Warn(ctx, "ws head stream lost", "attempt", attempt, "retry_in", delay, "error", err)
		s.setState(domain.StateReconnecting)
		if !sleep(ctx, delay) {
			return
		}
	}
}

// streamWS consumes newHeads from client, dialing first when client is nil.
// delivered reports whether at least one head arrived before the stream ended.
func (s *Subscriber) streamWS(ctx context.Context, client headClient) (delivered bool, err error) {
	if client == nil {
		if client, err = s.dial(ctx, s.config.WSURL); err != nil {
			return false, err
		}
	}
	s.mu.Lock()
	s.ws = client
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ws = nil
		s.mu.Unlock()
		client.Close()
	}()

	headers := make(chan *types.Header, s.config.BufferSize)
	sub, err := client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return false, err
	}
	defer sub.Unsubscribe()

	s.usingHTTP.Store(false)
	s.setState(domain.StateConnected)
	s.logger.Info(ctx, "subscribed to new heads", "source", sourceWS)

	var stall <-chan time.Time
	var timer *time.Timer
	if s.config.StallTimeout > 0 {
		timer = time.NewTimer(s.config.StallTimeout)
		defer timer.Stop()
		stall = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return delivered, err
		case <-stall:
			return delivered, errStalled
		case header := <-headers:
			if header == nil {
				continue
			}
			delivered = true
			if timer != nil {
				timer.Reset(s.config.StallTimeout)
			}
			s.handleHeader(ctx, header, sourceWS)
		}
	}
}

// pollHTTP polls the latest header until WSRetryAfter elapses, or forever
// when no WebSocket endpoint is configured.
func (s *Subscriber) pollHTTP(ctx context.Context) {
	s.usingHTTP.Store(true)
	s.setState(domain.StateConnected)
	s.logger.Info(ctx, "polling heads over http", "interval", s.config.PollInterval)

	var retryWS <-chan time.Time
	if s.config.WSURL != "" && s.config.WSRetryAfter > 0 {
		t := time.NewTimer(s.config.WSRetryAfter)
		defer t.Stop()
		retryWS = t.C
	}

	interval := s.config.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-retryWS:
			return
		case <-ticker.C:
		}
	}
}

func (s *Subscriber) pollOnce(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "eth.poll.head")
	defer span.End()

	client, err := s.httpClient(ctx)
	if err == nil {
		var header *types.Header
		header, err = s.httpCB.Execute(func() (*types.Header, error) {
			return client.HeaderByNumber(ctx, nil)
		})
		if err == nil {
			s.handleHeader(ctx, header, sourceHTTP)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	span.RecordError(err)
	s.metrics.streamErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("source", sourceHTTP)))
	s.logger.Warn(ctx, "http head poll failed", "error", err)
}

// httpClient returns the HTTP client, dialing it on first use.
func (s *Subscriber) httpClient(ctx context.Context) (headClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return s.http, nil
	}
	if s.config.HTTPURL == "" {
		return nil, errors.New("http url not configured")
	}
	client, err := s.dial(ctx, s.config.HTTPURL)
	if err != nil {
		return nil, err
	}
	s.http = client
	return client, nil
}

// handleHeader classifies header and forwards new heads and reorgs.
func (s *Subscriber) handleHeader(ctx context.Context, header *types.Header, source string) {
	block := headerToBlock(header)

	verdict := s.tracker.Observe(block)
	switch verdict {
	case domain.HeadDuplicate, domain.HeadStale:
		return
	case domain.HeadReorg:
		s.reorgs.Add(1)
		s.metrics.reorgs.Add(ctx, 1)
		s.logger.Warn(ctx, "chain reorganization", "number", block.Number, "hash", block.Hash.Hex(), "source", source)
	}
	if block.Missed > 0 {
		s.metrics.missedHeads.Add(ctx, int64(block.Missed))
		s.logger.Warn(ctx, "missed heads", "count", block.Missed, "resumed_at", block.Number, "source", source)
	}

	latency := time.Since(block.Timestamp)
	s.metrics.headLatency.Record(ctx, float64(latency.Milliseconds()),
		metric.WithAttributes(attribute.String("source", source)))
	s.lastBlock.Store(block.Number)
	s.lastHeadAt.Store(time.Now().UnixNano())

	s.emit(ctx, block)
}

// emit delivers block without blocking; a full buffer sheds its oldest block.
func (s *Subscriber) emit(ctx context.Context, block *domain.Block) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.blocks <- block:
			s.metrics.headsReceived.Add(ctx, 1)
			s.logger.Debug(ctx, "head", "number", block.Number, "reorg", block.Reorg)
			return
		default:
		}
		select {
		case old := <-s.blocks:
			s.logger.Debug(ctx, "consumer behind, dropped head", "number", old.Number)
		default:
		}
	}
}

func headerToBlock(header *types.Header) *domain.Block {
	return &domain.Block{
		Number:     header.Number.Uint64(),
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
		Timestamp:  time.Unix(int64(header.Time), 0),
		GasLimit:   header.GasLimit,
		GasUsed:    header.GasUsed,
		BaseFee:    header.BaseFee,
	}
}

// LatestBlock fetches the current head directly from the node.
func (s *Subscriber) LatestBlock(ctx context.Context) (*domain.Block, error) {
	ctx, span := s.tracer.Start(ctx, "eth.latest_block")
	defer span.End()

	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()

	var (
		header *types.Header
		err    error
	)
	if ws != nil {
		header, err = s.wsCB.Execute(func() (*types.Header, error) {
			return ws.HeaderByNumber(ctx, nil)
		})
	}
	if header == nil {
		var client headClient
		if client, err = s.httpClient(ctx); err == nil {
			header, err = s.httpCB.Execute(func() (*types.Header, error) {
				return client.HeaderByNumber(ctx, nil)
			})
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, apperror.New(apperror.CodeBlockNotFound,
			apperror.WithCause(err),
			apperror.WithContext("latest head"))
	}
	return headerToBlock(header), nil
}

// State returns the current connection state.
func (s *Subscriber) State() domain.ConnectionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Status returns detailed connection status.
func (s *Subscriber) Status() domain.ConnectionStatus {
	var at time.Time
	if ns := s.lastHeadAt.Load(); ns > 0 {
		at = time.Unix(0, ns)
	}
	return domain.ConnectionStatus{
		State:      s.State(),
		LastBlock:  s.lastBlock.Load(),
		LastHeadAt: at,
		Reconnects: int(s.reconnects.Load()),
		Reorgs:     int(s.reorgs.Load()),
		UsingHTTP:  s.usingHTTP.Load(),
	}
}

// Close stops the stream, closes the block channel and releases clients.
func (s *Subscriber) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	close(s.blocks)
	s.closeMu.Unlock()

	s.running.Wait()

	s.mu.Lock()
	if s.http != nil {
		s.http.Close()
		s.http = nil
	}
	s.mu.Unlock()

	s.setState(domain.StateDisconnected)
	s.logger.Info(context.Background(), "ethereum subscriber closed")
	return nil
}

func (s *Subscriber) setState(state domain.ConnectionState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()

	var v int64
	switch state {
	case domain.StateConnecting:
		v = 1
	case domain.StateConnected:
		v = 2
	case domain.StateReconnecting:
		v = 3
	}
	s.metrics.connectionState.Record(context.Background(), v)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
