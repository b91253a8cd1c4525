// Package mempool tracks pending transactions over an eth_subscribe stream.
package mempool

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/fd1az/arbitrage-pipeline/business/market/app"
	"github.com/fd1az/arbitrage-pipeline/business/market/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
	"github.com/fd1az/arbitrage-pipeline/internal/wsconn"
)

const meterName = "github.com/fd1az/arbitrage-pipeline/business/market/infra/mempool"

// Ensure Watcher implements PendingSource.
var _ app.PendingSource = (*Watcher)(nil)

// Config holds watcher settings.
type Config struct {
	WSURL      string
	Window     time.Duration // how long a pending tx stays visible
	MaxPending int
}

// Conn is the subset of wsconn.Client the watcher needs.
type Conn interface {
	Connect(ctx context.Context) error
	SendJSON(ctx context.Context, v any) error
	OnMessage(h wsconn.MessageHandler)
	OnConnect(h wsconn.ConnectHandler)
	Close() error
}

type subscribeRequest struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      int64    `json:"id"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
}

type notification struct {
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// Watcher keeps a rolling window of pending transaction hashes.
type Watcher struct {
	cfg    Config
	conn   Conn
	logger logger.LoggerInterface
	now    func() time.Time

	mu      sync.Mutex
	pending []domain.PendingTx // ordered by SeenAt
	seen    map[common.Hash]struct{}

	requestID atomic.Int64
	received  metric.Int64Counter
}

// NewWatcher creates a watcher over a fresh wsconn client.
func NewWatcher(cfg Config, log logger.LoggerInterface) (*Watcher, error) {
	wsCfg := wsconn.DefaultConfig(cfg.WSURL, "mempool")
	client, err := wsconn.New(wsCfg)
	if err != nil {
		return nil, err
	}
	return NewWatcherWithConn(cfg, client, log)
}

// NewWatcherWithConn creates a watcher over an existing connection.
func NewWatcherWithConn(cfg Config, conn Conn, log logger.LoggerInterface) (*Watcher, error) {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 512
	}

	received, err := otel.Meter(meterName).Int64Counter(
		"mempool_pending_seen_total",
		metric.WithDescription("Pending transaction hashes observed"),
	)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:      cfg,
		conn:     conn,
		logger:   log,
		now:      time.Now,
		seen:     make(map[common.Hash]struct{}),
		received: received,
	}
	conn.OnMessage(w.handleMessage)
	conn.OnConnect(w.subscribe)
	return w, nil
}

// Start connects and subscribes. Reconnects resubscribe automatically.
func (w *Watcher) Start(ctx context.Context) error {
	return w.conn.Connect(ctx)
}

// Close stops the stream.
func (w *Watcher) Close() error {
	return w.conn.Close()
}

func (w *Watcher) subscribe(ctx context.Context) error {
	return w.conn.SendJSON(ctx, subscribeRequest{
		JSONRPC: "2.0",
		ID:      w.requestID.Add(1),
		Method:  "eth_subscribe",
		Params:  []string{"newPendingTransactions"},
	})
}

func (w *Watcher) handleMessage(ctx context.Context, msg []byte) {
	var n notification
	if err := json.Unmarshal(msg, &n); err != nil {
		w.logger.Debug(ctx, "mempool: undecodable message", "error", err)
		return
	}
	if n.Method != "eth_subscription" {
		return // subscription acks and unrelated responses
	}

	var hash common.Hash
	if err := json.Unmarshal(n.Params.Result, &hash); err != nil {
		w.logger.Debug(ctx, "mempool: unexpected result", "error", err)
		return
	}
	w.Observe(hash)
	w.received.Add(ctx, 1)
}

// Observe records a pending transaction hash.
func (w *Watcher) Observe(hash common.Hash) {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.seen[hash]; dup {
		return
	}
	w.seen[hash] = struct{}{}
	w.pending = append(w.pending, domain.PendingTx{Hash: hash, SeenAt: now})
	w.pruneLocked(now)
}

func (w *Watcher) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.cfg.Window)
	drop := 0
	for drop < len(w.pending) && w.pending[drop].SeenAt.Before(cutoff) {
		drop++
	}
	if excess := len(w.pending) - drop - w.cfg.MaxPending; excess > 0 {
		drop += excess
	}
	if drop == 0 {
		return
	}
	for _, tx := range w.pending[:drop] {
		delete(w.seen, tx.Hash)
	}
	w.pending = append(w.pending[:0:0], w.pending[drop:]...)
}

// Pending returns the visible pending transactions, oldest first.
func (w *Watcher) Pending() []domain.PendingTx {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(w.now())
	out := make([]domain.PendingTx, len(w.pending))
	copy(out, w.pending)
	return out
}

// RatePerMinute returns the arrival rate over the watch window.
func (w *Watcher) RatePerMinute() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(w.now())
	return float64(len(w.pending)) / w.cfg.Window.Minutes()
}
