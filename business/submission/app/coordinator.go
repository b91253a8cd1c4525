package app

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	bundle "github.com/fd1az/arbitrage-pipeline/business/bundle/domain"
	profit "github.com/fd1az/arbitrage-pipeline/business/profit/domain"
	"github.com/fd1az/arbitrage-pipeline/business/submission/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/cache"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
	"github.com/fd1az/arbitrage-pipeline/internal/logger"
)

const (
	tracerName = "github.com/fd1az/arbitrage-pipeline/business/submission"
	meterName  = "github.com/fd1az/arbitrage-pipeline/business/submission"
)

// Config holds submission policy.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	FeeBump        decimal.Decimal
	PollInterval   time.Duration
	Retention      time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// ConfigFromSettings converts the loaded submission settings.
func ConfigFromSettings(s config.SubmissionConfig) Config {
	return Config{
		MaxAttempts:    s.MaxAttempts,
		InitialBackoff: s.InitialBackoff,
		MaxBackoff:     s.MaxBackoff,
		FeeBump:        decimal.NewFromFloat(s.FeeBump),
		PollInterval:   s.PollInterval,
		Retention:      s.Retention,
	}
}

func (c Config) backoff(attempt int) time.Duration {
	d := c.InitialBackoff << (attempt - 1)
	if d <= 0 || d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

type coordinatorMetrics struct {
	transitions metric.Int64Counter
	attempts    metric.Int64Counter
	inclusion   metric.Float64Histogram
}

// Coordinator submits bundles to relays and drives each record to a terminal state.
type Coordinator struct {
	cfg      Config
	relays   []Relay
	chain    InclusionChecker
	repricer Repricer
	profit   ProfitConfirmer
	archive  Archive
	records  *cache.Cache[uuid.UUID, domain.Record]
	logger   logger.LoggerInterface

	tracer  trace.Tracer
	metrics *coordinatorMetrics
}

// NewCoordinator creates a submission coordinator.
func NewCoordinator(
	cfg Config,
	relays []Relay,
	chain InclusionChecker,
	repricer Repricer,
	confirmer ProfitConfirmer,
	archive Archive,
	log logger.LoggerInterface,
) (*Coordinator, error) {
	if len(relays) == 0 {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext("submission needs at least one relay"))
	}
	if cfg.MaxAttempts < 1 {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext("submission max attempts must be >= 1"))
	}
	if cfg.FeeBump.LessThanOrEqual(decimal.NewFromInt(1)) {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext("submission fee bump must exceed 1"))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	c := &Coordinator{
		cfg:      cfg,
		relays:   relays,
		chain:    chain,
		repricer: repricer,
		profit:   confirmer,
		archive:  archive,
		records:  cache.New[uuid.UUID, domain.Record](time.Minute, cache.WithClock[uuid.UUID, domain.Record](cfg.Now)),
		logger:   log,
		tracer:   otel.Tracer(tracerName),
	}
	if err := c.initMetrics(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) initMetrics() error {
	meter := otel.Meter(meterName)

	transitions, err := meter.Int64Counter(
		"submission_transitions_total",
		metric.WithDescription("Submission records reaching a state"),
	)
	if err != nil {
		return err
	}

	attempts, err := meter.Int64Counter(
		"relay_attempts_total",
		metric.WithDescription("Relay send attempts by relay and result"),
	)
	if err != nil {
		return err
	}

	inclusion, err := meter.Float64Histogram(
		"submission_inclusion_latency_ms",
		metric.WithDescription("Time from submission to observed inclusion"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	c.metrics = &coordinatorMetrics{transitions: transitions, attempts: attempts, inclusion: inclusion}
	return nil
}

// Submit sends b to every relay in parallel. The returned record is pending
// when at least one relay accepted the bundle, otherwise rejected.
func (c *Coordinator) Submit(ctx context.Context, b *bundle.Bundle) (domain.Record, error) {
	ctx, span := c.tracer.Start(ctx, "submission.submit",
		trace.WithAttributes(
			attribute.String("bundle.id", b.ID.String()),
			attribute.Int64("target_block", int64(b.TargetBlock)),
		),
	)
	defer span.End()

	now := c.cfg.Now()
	rec := domain.NewRecord(b, now)

	if b.Expired(now) {
		c.settle(ctx, &rec, domain.StateExpired, apperror.CodeBundleExpired)
		span.SetStatus(codes.Error, "expired before send")
		return rec, nil
	}

	receipts := c.sendAll(ctx, b)
	rec.Relays = receipts
	for _, rr := range receipts {
		rec.Attempts += rr.Attempts
	}

	if !rec.Accepted() {
		reason := apperror.CodeRelayUnavailable
		if rec.Rejected() {
			reason = apperror.CodeRelayRejected
		}
		c.settle(ctx, &rec, domain.StateRejected, reason)
		span.SetAttributes(attribute.String("reason", string(reason)))
		span.SetStatus(codes.Error, "no relay accepted")
		return rec, nil
	}

	c.records.Set(ctx, rec.BundleID, rec, c.cfg.Retention)
	c.metrics.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(domain.StatePending))))
	c.logger.Info(ctx, "bundle submitted",
		"bundle_id", rec.BundleID.String(),
		"route", rec.Route,
		"target_block", rec.TargetBlock,
		"relays", len(receipts),
		"attempts", rec.Attempts,
	)
	span.SetStatus(codes.Ok, "pending")
	return rec, nil
}

// sendAll fans b out to the relays and waits for every result.
func (c *Coordinator) sendAll(ctx context.Context, b *bundle.Bundle) []domain.RelayReceipt {
	receipts := make([]domain.RelayReceipt, len(c.relays))
	var g errgroup.Group
	for i, r := range c.relays {
		g.Go(func() error {
			receipts[i] = c.send(ctx, r, b)
			return nil
		})
	}
	_ = g.Wait()
	return receipts
}

// send retries transient relay failures with exponential backoff.
func (c *Coordinator) send(ctx context.Context, r Relay, b *bundle.Bundle) domain.RelayReceipt {
	rr := domain.RelayReceipt{Relay: r.Name()}
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		rr.Attempts = attempt

		hash, err := r.SendBundle(ctx, b)
		if err == nil {
			rr.Accepted = true
			rr.BundleHash = hash
			rr.Code, rr.Error = "", ""
			c.metrics.attempts.Add(ctx, 1, metric.WithAttributes(
				attribute.String("relay", rr.Relay), attribute.String("result", "accepted")))
			return rr
		}

		rr.Code = apperror.GetCode(err)
		rr.Error = err.Error()
		c.metrics.attempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("relay", rr.Relay), attribute.String("result", string(rr.Code))))

		if !apperror.IsRetryable(err) || attempt == c.cfg.MaxAttempts {
			break
		}
		c.logger.Debug(ctx, "relay send failed, retrying",
			"relay", rr.Relay, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return rr
		case <-time.After(c.cfg.backoff(attempt)):
		}
	}
	c.logger.Warn(ctx, "relay did not accept bundle",
		"relay", rr.Relay, "bundle_id", b.ID.String(), "code", rr.Code, "attempts", rr.Attempts)
	return rr
}

// Poll refreshes a pending record: included once its last transaction is
// mined, expired once its window has passed without inclusion.
func (c *Coordinator) Poll(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if rec.State.Terminal() {
		return rec, nil
	}

	ctx, span := c.tracer.Start(ctx, "submission.poll",
		trace.WithAttributes(attribute.String("bundle.id", rec.BundleID.String())),
	)
	defer span.End()

	block, mined, err := c.chain.Inclusion(ctx, common.HexToHash(rec.LastTxHash()))
	if err == nil && mined {
		rec.IncludedBlock = block
		c.settle(ctx, &rec, domain.StateIncluded, "")
		c.metrics.inclusion.Record(ctx, float64(rec.UpdatedAt.Sub(rec.SubmittedAt).Milliseconds()))
		span.SetStatus(codes.Ok, "included")
		return rec, nil
	}

	if c.cfg.Now().After(rec.ExpiresAt) {
		c.inspect(ctx, &rec)
		c.settle(ctx, &rec, domain.StateExpired, apperror.CodeBundleExpired)
		span.SetStatus(codes.Ok, "expired")
		return rec, nil
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inclusion lookup failed")
		return rec, err
	}
	span.SetStatus(codes.Ok, "pending")
	return rec, nil
}

// bundleStatsTimeout bounds each relay lookup made when a bundle expires.
const bundleStatsTimeout = 2 * time.Second

// inspect attaches each accepting relay's view of the bundle to rec.
func (c *Coordinator) inspect(ctx context.Context, rec *domain.Record) {
	rec.Relays = slices.Clone(rec.Relays)
	for i := range rec.Relays {
		rr := &rec.Relays[i]
		if !rr.Accepted || rr.BundleHash == "" {
			continue
		}
		ins, ok := c.relayNamed(rr.Relay).(BundleInspector)
		if !ok {
			continue
		}

		lctx, cancel := context.WithTimeout(ctx, bundleStatsTimeout)
		st, err := ins.BundleStats(lctx, rr.BundleHash, rec.TargetBlock)
		cancel()
		if err != nil {
			c.logger.Debug(ctx, "bundle stats unavailable",
				append([]any{"bundle_id", rec.BundleID.String(), "relay", rr.Relay}, apperror.LogAttrs(err)...)...)
			continue
		}
		rr.Stats = &st
		c.logger.Info(ctx, "expired bundle relay view",
			"bundle_id", rec.BundleID.String(),
			"relay", rr.Relay,
			"simulated", st.IsSimulated,
			"sent_to_builders", st.SentToBuilders,
		)
	}
}

func (c *Coordinator) relayNamed(name string) Relay {
	for _, r := range c.relays {
		if r.Name() == name {
			return r
		}
	}
	return nil
}

// Resubmit re-sends a pending bundle that missed its target block at a
// bumped fee, once, and only when the bumped fee keeps the trade profitable.
// head is the latest block number seen.
func (c *Coordinator) Resubmit(ctx context.Context, rec domain.Record, b *bundle.Bundle, a profit.ProfitAnalysis, head uint64) (domain.Record, *bundle.Bundle, error) {
	ctx, span := c.tracer.Start(ctx, "submission.resubmit",
		trace.WithAttributes(attribute.String("bundle.id", rec.BundleID.String())),
	)
	defer span.End()

	deny := func(why string) (domain.Record, *bundle.Bundle, error) {
		span.SetStatus(codes.Error, why)
		c.logger.Info(ctx, "resubmission denied", "bundle_id", rec.BundleID.String(), "reason", why)
		return rec, b, apperror.New(apperror.CodeResubmitDenied, apperror.WithContext(why))
	}

	switch {
	case rec.State != domain.StatePending:
		return deny(fmt.Sprintf("record is %s", rec.State))
	case rec.Resubmissions > 0:
		return deny("already resubmitted")
	case head <= rec.TargetBlock:
		return deny("target block not yet passed")
	}

	bumped := decimal.NewFromBigInt(rec.LastGasPrice, 0).Mul(c.cfg.FeeBump).BigInt()
	if confirmed := c.profit.AtGasPrice(a, bumped); !confirmed.Profitable {
		return deny("unprofitable at bumped fee: " + confirmed.Reason)
	}

	nb, err := c.repricer.Reprice(ctx, b, c.cfg.FeeBump)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reprice failed")
		return rec, b, err
	}
	nb.TargetBlock = head + 1

	receipts := c.sendAll(ctx, nb)
	rec.Resubmissions++
	rec.Relays = append(rec.Relays, receipts...)
	for _, rr := range receipts {
		rec.Attempts += rr.Attempts
	}

	accepted := false
	for _, rr := range receipts {
		accepted = accepted || rr.Accepted
	}
	if !accepted {
		c.records.Set(ctx, rec.BundleID, rec, c.cfg.Retention)
		span.SetStatus(codes.Error, "no relay accepted resubmission")
		return rec, b, apperror.New(apperror.CodeRelayUnavailable,
			apperror.WithContext("resubmission of "+rec.BundleID.String()))
	}

	rec.TxHashes = nb.TxHashes()
	rec.TargetBlock = nb.TargetBlock
	rec.LastGasPrice = nb.GasFeeCap
	rec.ExpiresAt = nb.MaxTimestamp
	rec.UpdatedAt = c.cfg.Now()
	c.records.Set(ctx, rec.BundleID, rec, c.cfg.Retention)

	c.logger.Info(ctx, "bundle resubmitted",
		"bundle_id", rec.BundleID.String(),
		"target_block", rec.TargetBlock,
		"fee_cap_gwei", decimal.NewFromBigInt(nb.GasFeeCap, -9).String(),
	)
	span.SetStatus(codes.Ok, "resubmitted")
	return rec, nb, nil
}

// Track polls rec until it is terminal, resubmitting once if the head moves
// past the target block. head reports the latest block number.
func (c *Coordinator) Track(ctx context.Context, rec domain.Record, b *bundle.Bundle, a profit.ProfitAnalysis, head func() uint64) (domain.Record, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	tried := false
	for {
		var err error
		rec, err = c.Poll(ctx, rec)
		if rec.State.Terminal() {
			return rec, nil
		}
		if err != nil {
			c.logger.Debug(ctx, "inclusion poll failed", "bundle_id", rec.BundleID.String(), "error", err)
		}

		if !tried && head() > rec.TargetBlock {
			tried = true
			rec, b, _ = c.Resubmit(ctx, rec, b, a, head())
		}

		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// settle moves rec to a terminal state, then stores and archives it.
func (c *Coordinator) settle(ctx context.Context, rec *domain.Record, to domain.State, reason apperror.Code) {
	if err := rec.Transition(to, reason, c.cfg.Now()); err != nil {
		c.logger.Error(ctx, "invalid submission transition", "bundle_id", rec.BundleID.String(), "error", err)
		return
	}
	c.metrics.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(to))))
	c.records.Set(ctx, rec.BundleID, *rec, c.cfg.Retention)

	// Rejections and expiries are policy outcomes, reported with their reason.
	c.logger.Info(ctx, "submission settled",
		"bundle_id", rec.BundleID.String(),
		"route", rec.Route,
		"state", string(to),
		"reason", string(reason),
		"included_block", rec.IncludedBlock,
	)

	if c.archive == nil {
		return
	}
	if err := c.archive.Save(ctx, *rec); err != nil {
		c.logger.Warn(ctx, "submission archive write failed",
			"bundle_id", rec.BundleID.String(),
			"error", apperror.New(apperror.CodeArchiveWriteFailed, apperror.WithCause(err)))
	}
}

// Record returns a retained record, falling back to the archive.
func (c *Coordinator) Record(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	if rec, ok := c.records.Get(ctx, id); ok {
		return rec, nil
	}
	if c.archive == nil {
		return domain.Record{}, apperror.New(apperror.CodeNotFound, apperror.WithContext("record "+id.String()))
	}
	return c.archive.Get(ctx, id)
}

// Records returns the records still inside the retention window.
func (c *Coordinator) Records() []domain.Record { return c.records.Values() }

// RelayStats returns per-relay submission statistics.
func (c *Coordinator) RelayStats() []domain.RelayStats {
	out := make([]domain.RelayStats, len(c.relays))
	for i, r := range c.relays {
		out[i] = r.Stats()
	}
	return out
}

// Close releases the record cache and the archive.
func (c *Coordinator) Close() error {
	c.records.Close()
	if c.archive != nil {
		return c.archive.Close()
	}
	return nil
}
