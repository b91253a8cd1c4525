package app

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	blockchainApp "github.com/fd1az/arbitrage-pipeline/business/blockchain/app"
	blockchainDomain "github.com/fd1az/arbitrage-pipeline/business/blockchain/domain"
	"github.com/fd1az/arbitrage-pipeline/business/market/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/asset"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

const tracerName = "github.com/fd1az/arbitrage-pipeline/business/market/app"

// Ensure Service implements SnapshotProvider.
var _ SnapshotProvider = (*Service)(nil)

// ServiceConfig holds snapshot assembly settings.
type ServiceConfig struct {
	BaseToken common.Address
	Tokens    []*asset.Asset
}

// Service captures a snapshot on every new block.
type Service struct {
	blocks  blockchainApp.BlockSubscriber
	reader  PoolReader
	pending PendingSource // optional
	cfg     ServiceConfig
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates a snapshot service. pending may be nil.
func NewService(
	blocks blockchainApp.BlockSubscriber,
	reader PoolReader,
	pending PendingSource,
	cfg ServiceConfig,
	log logger.LoggerInterface,
) *Service {
	return &Service{
		blocks:  blocks,
		reader:  reader,
		pending: pending,
		cfg:     cfg,
		logger:  log,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
}

// Capture reads pool state at block and assembles an immutable snapshot.
// Pools that fail to read are logged and left out.
func (s *Service) Capture(ctx context.Context, block *blockchainDomain.Block) *domain.Snapshot {
	ctx, span := s.tracer.Start(ctx, "market.capture",
		trace.WithAttributes(
			attribute.Int64("block", int64(block.Number)),
			attribute.Bool("reorg", block.Reorg),
		),
	)
	defer span.End()

	if block.Reorg {
		s.logger.Info(ctx, "capturing replacement head", "block", block.Number)
	}

	pools, diags := s.reader.ReadPools(ctx, block.Number)
	for _, err := range diags {
		s.logger.Warn(ctx, "pool skipped", "block", block.Number, "error", err)
	}

	var pending []domain.PendingTx
	if s.pending != nil {
		pending = s.pending.Pending()
	}

	snap := domain.NewSnapshot(domain.SnapshotInput{
		Block:      block.Number,
		CapturedAt: s.now(),
		BaseFee:    block.BaseFee,
		BaseToken:  s.cfg.BaseToken,
		Tokens:     s.cfg.Tokens,
		Pools:      pools,
		Pending:    pending,
	})

	span.SetAttributes(
		attribute.Int("pools", len(pools)),
		attribute.Int("skipped", len(diags)),
		attribute.Int("pending", snap.PendingCount()),
	)
	return snap
}

// Snapshots emits one snapshot per new block. When the consumer falls behind,
// an undelivered snapshot is replaced by the newer one.
func (s *Service) Snapshots(ctx context.Context) (<-chan *domain.Snapshot, error) {
	blocks, err := s.blocks.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.Snapshot, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case block, ok := <-blocks:
				if !ok {
					return
				}
				if block == nil {
					continue
				}
				publishLatest(out, s.Capture(ctx, block))
			}
		}
	}()
	return out, nil
}

// MempoolRate returns pending transactions per minute, or 0 without a mempool feed.
func (s *Service) MempoolRate() float64 {
	if s.pending == nil {
		return 0
	}
	return s.pending.RatePerMinute()
}

func publishLatest(out chan *domain.Snapshot, snap *domain.Snapshot) {
	for {
		select {
		case out <- snap:
			return
		default:
		}
		select {
		case <-out: // drop the stale one
		default:
		}
	}
}
