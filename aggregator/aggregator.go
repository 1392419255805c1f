// Package aggregator implements the batch builder (§4.10): per-chain FIFO
// admission of authorized intents, size/time flush triggers, Merkle batch
// commitment, executor handoff with retry-with-backoff on retryable
// errors, and monotonic settlement-status tracking.
//
// It is grounded on the teacher's txpool/queue_manager.go: a
// map[key]*queue type guarded by a single RWMutex, a config struct with
// DefaultX constants filled in by the constructor when the caller leaves a
// field at its zero value, and a total counter kept alongside the map —
// generalized here from per-account nonce-ordered queues to per-chain
// FIFO-ordered intent queues, since an aggregator has no notion of
// replace-by-fee or nonce gaps.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/obscura-network/siaac/authz"
	"github.com/obscura-network/siaac/crypto/hashdom"
	"github.com/obscura-network/siaac/crypto/merkle"
	"github.com/obscura-network/siaac/external"
	"github.com/obscura-network/siaac/log"
	"github.com/obscura-network/siaac/metrics"
	"github.com/obscura-network/siaac/model"
)

// Errors returned by the aggregator, per §7.
var (
	ErrExpired       = errors.New("aggregator: intent deadline has passed")
	ErrUnknownBatch  = errors.New("aggregator: unknown batch id")
	ErrIllegalStatus = errors.New("aggregator: illegal settlement status transition")
)

// Settings are one chain queue's flush thresholds, per §4.10's
// {maxBatchSize, maxWaitMs, minBatchSize}.
type Settings struct {
	MaxBatchSize int
	MaxWaitMs    int64
	MinBatchSize int
}

// DefaultSettings mirrors §9's literal defaults.
func DefaultSettings() Settings {
	return Settings{MaxBatchSize: 100, MaxWaitMs: 60000, MinBatchSize: 1}
}

func (s Settings) withDefaults() Settings {
	if s.MaxBatchSize <= 0 {
		s.MaxBatchSize = DefaultSettings().MaxBatchSize
	}
	if s.MaxWaitMs <= 0 {
		s.MaxWaitMs = DefaultSettings().MaxWaitMs
	}
	if s.MinBatchSize <= 0 {
		s.MinBatchSize = DefaultSettings().MinBatchSize
	}
	return s
}

// SubmitResult is returned by SubmitIntent on success, per §4.10 step 4.
type SubmitResult struct {
	IntentID      hashdom.Digest
	BatchPosition int
	Chain         string
}

// backoff tracks retry state for one batch sitting in the retry buffer.
type backoff struct {
	attempt int
	nextAt  time.Time
}

const (
	retryBaseMs = 1000
	retryCapMs  = 60000
)

func (b *backoff) schedule() {
	b.attempt++
	ms := retryBaseMs << uint(b.attempt-1)
	if ms > retryCapMs || ms <= 0 {
		ms = retryCapMs
	}
	jitter := time.Duration(rand.Int63n(int64(ms)/2)) * time.Millisecond
	b.nextAt = time.Now().Add(time.Duration(ms)*time.Millisecond + jitter)
}

// chainQueue is one chain's FIFO admission queue and retry buffer.
type chainQueue struct {
	mu       sync.Mutex
	settings Settings
	pending  []model.PendingIntent
	retrying map[string]*retryingBatch
}

type retryingBatch struct {
	batch   model.BatchCommitment
	backoff backoff
}

// Aggregator is the root object owning every per-chain queue, the
// authorization service it authorizes through, and the executor it hands
// finished batches to. No state is reachable outside this object.
type Aggregator struct {
	authSvc      *authz.Service
	executor     external.Executor
	defaultChain string

	mu       sync.Mutex
	queues   map[string]*chainQueue
	defaults Settings

	records   map[string]model.SettlementRecord
	recordsMu sync.Mutex

	sem     *semaphore.Weighted
	log     *log.Logger
	metrics *metrics.Metrics
}

// SetMetrics wires a Metrics recorder into the aggregator.
func (a *Aggregator) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// Config configures a new Aggregator.
type Config struct {
	DefaultChain       string
	DefaultSettings    Settings
	HashingParallelism int64 // bound on concurrent CPU-bound hashing tasks
}

// New creates an Aggregator with no chain queues yet; each chain's queue is
// created lazily on first use with Config.DefaultSettings, or with
// per-chain settings registered via ConfigureChain.
func New(authSvc *authz.Service, executor external.Executor, cfg Config, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.HashingParallelism <= 0 {
		cfg.HashingParallelism = 4
	}
	if cfg.DefaultChain == "" {
		cfg.DefaultChain = "default"
	}
	return &Aggregator{
		authSvc:      authSvc,
		executor:     executor,
		defaultChain: cfg.DefaultChain,
		queues:       make(map[string]*chainQueue),
		defaults:     cfg.DefaultSettings.withDefaults(),
		records:      make(map[string]model.SettlementRecord),
		sem:          semaphore.NewWeighted(cfg.HashingParallelism),
		log:          logger.Module("aggregator"),
	}
}

// ConfigureChain sets explicit flush settings for a chain, overriding the
// aggregator's defaults. Must be called before the chain's queue is first
// used, or it has no effect on an already-created queue.
func (a *Aggregator) ConfigureChain(chain string, s Settings) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.queues[chain]; exists {
		return
	}
	a.queues[chain] = &chainQueue{settings: s.withDefaults(), retrying: make(map[string]*retryingBatch)}
}

func (a *Aggregator) queueFor(chain string) *chainQueue {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.queues[chain]
	if !ok {
		q = &chainQueue{settings: a.defaults, retrying: make(map[string]*retryingBatch)}
		a.queues[chain] = q
	}
	return q
}

// SubmitIntent authorizes shielded/sig and, on success, enqueues it on its
// target chain's FIFO queue, immediately triggering a flush if the queue
// has reached maxBatchSize.
func (a *Aggregator) SubmitIntent(ctx context.Context, shielded model.ShieldedIntent, sig model.SignedAuthorization, deadline time.Time) (SubmitResult, error) {
	if !deadline.IsZero() && time.Now().After(deadline) {
		return SubmitResult{}, ErrExpired
	}

	authorized, err := a.authSvc.AuthorizeIntent(shielded, sig)
	if err != nil {
		return SubmitResult{}, err
	}

	chain := shielded.TargetChainHint
	if chain == "" {
		chain = a.defaultChain
	}
	q := a.queueFor(chain)

	q.mu.Lock()
	q.pending = append(q.pending, model.PendingIntent{
		Authorized: authorized,
		EnqueuedAt: time.Now(),
		Chain:      chain,
		Deadline:   deadline,
	})
	pos := len(q.pending)
	ready := pos >= q.settings.MaxBatchSize
	q.mu.Unlock()

	if a.metrics != nil {
		a.metrics.QueueDepth.WithLabelValues(chain).Set(float64(pos))
	}

	if ready {
		if _, err := a.FlushIfReady(ctx, chain); err != nil {
			a.log.Warn("immediate flush after reaching maxBatchSize failed", "chain", chain, "err", err)
		}
	}

	return SubmitResult{IntentID: shielded.CommitmentHash, BatchPosition: pos, Chain: chain}, nil
}

// FlushIfReady evaluates the flush condition for chain and, if met, drains
// the queue, builds the batch commitment, and hands it to the executor.
// It returns (nil, nil) when the condition was not met.
func (a *Aggregator) FlushIfReady(ctx context.Context, chain string) (*model.BatchCommitment, error) {
	q := a.queueFor(chain)

	q.mu.Lock()
	if !flushCondition(q.pending, q.settings) {
		q.mu.Unlock()
		return nil, nil
	}
	n := len(q.pending)
	if n > q.settings.MaxBatchSize {
		n = q.settings.MaxBatchSize
	}
	drained := make([]model.PendingIntent, n)
	copy(drained, q.pending[:n])
	q.pending = q.pending[n:]
	q.mu.Unlock()

	if a.metrics != nil {
		a.metrics.QueueDepth.WithLabelValues(chain).Set(float64(len(q.pending)))
	}

	valid, expired := splitExpired(drained)
	for _, pi := range expired {
		a.log.Warn("dropping expired queued intent at flush", "chain", chain, "intentId", fmt.Sprintf("%x", pi.Authorized.Shielded.CommitmentHash[:]), "deadline", pi.Deadline)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	batch, err := a.buildBatch(ctx, chain, valid)
	if err != nil {
		return nil, err
	}

	if a.metrics != nil {
		oldest := valid[0].EnqueuedAt
		a.metrics.BatchFlushLatency.WithLabelValues(chain).Observe(time.Since(oldest).Seconds())
	}

	record, execErr := a.executor.Submit(ctx, batch)
	if execErr != nil {
		if execErr.IsRetryable() {
			q.mu.Lock()
			rb := &retryingBatch{batch: batch}
			rb.backoff.schedule()
			q.retrying[batch.BatchID] = rb
			q.mu.Unlock()
			a.setRecord(model.SettlementRecord{BatchID: batch.BatchID, Chain: chain, Status: model.StatusPending})
			a.recordFlushed(chain, "retryable")
			return &batch, nil
		}
		a.setRecord(model.SettlementRecord{BatchID: batch.BatchID, Chain: chain, Status: model.StatusFailed})
		a.log.Audit("batch failed non-retryably", "batchId", batch.BatchID, "reason", execErr.Reason)
		a.recordFlushed(chain, "nonretryable")
		return &batch, execErr
	}

	record.Status = model.StatusSubmitted
	a.setRecord(record)
	a.recordFlushed(chain, flushTrigger(valid, q.settings))
	return &batch, nil
}

// splitExpired partitions drained intents into those still within their
// deadline and those already expired. An expired queued intent's signing
// key is already burned and cannot be reissued, so it is dropped rather
// than included in the batch; the submitter discovers this by polling
// settlement status rather than through a synchronous error.
func splitExpired(drained []model.PendingIntent) (valid, expired []model.PendingIntent) {
	now := time.Now()
	for _, pi := range drained {
		if !pi.Deadline.IsZero() && now.After(pi.Deadline) {
			expired = append(expired, pi)
			continue
		}
		valid = append(valid, pi)
	}
	return valid, expired
}

func flushTrigger(drained []model.PendingIntent, s Settings) string {
	if len(drained) >= s.MaxBatchSize {
		return "size"
	}
	return "time"
}

func (a *Aggregator) recordFlushed(chain, trigger string) {
	if a.metrics != nil {
		a.metrics.BatchesFlushedTotal.WithLabelValues(chain, trigger).Inc()
	}
}

func flushCondition(pending []model.PendingIntent, s Settings) bool {
	if len(pending) >= s.MaxBatchSize {
		return true
	}
	if len(pending) >= s.MinBatchSize && len(pending) > 0 {
		return time.Since(pending[0].EnqueuedAt) >= time.Duration(s.MaxWaitMs)*time.Millisecond
	}
	return false
}

// buildBatch collects the drained intents' commitment hashes, one goroutine
// per intent gated by the aggregator's hashing-parallelism semaphore, then
// builds the Merkle tree over them. The tree itself is hashed sequentially
// by merkle.FromLeafHashes; the semaphore does not bound it.
func (a *Aggregator) buildBatch(ctx context.Context, chain string, drained []model.PendingIntent) (model.BatchCommitment, error) {
	commitments := make([]hashdom.Digest, len(drained))

	g, gctx := errgroup.WithContext(ctx)
	for i, pi := range drained {
		i, pi := i, pi
		if err := a.sem.Acquire(gctx, 1); err != nil {
			return model.BatchCommitment{}, err
		}
		g.Go(func() error {
			defer a.sem.Release(1)
			commitments[i] = pi.Authorized.Shielded.CommitmentHash
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.BatchCommitment{}, err
	}

	tree, err := merkle.FromLeafHashes(commitments)
	if err != nil {
		return model.BatchCommitment{}, err
	}
	proofs := make([]*merkle.Proof, len(commitments))
	for i := range commitments {
		p, err := tree.Proof(i)
		if err != nil {
			return model.BatchCommitment{}, err
		}
		proofs[i] = p
	}

	return model.BatchCommitment{
		BatchID:     uuid.NewString(),
		Chain:       chain,
		BatchRoot:   tree.Root(),
		Commitments: commitments,
		Proofs:      proofs,
		CreatedAt:   time.Now(),
		Count:       len(commitments),
	}, nil
}

// RetryDueBatches resubmits any retry-buffered batches whose backoff has
// elapsed. Intended to be called by the per-chain cleanup task alongside
// FlushIfReady.
func (a *Aggregator) RetryDueBatches(ctx context.Context, chain string) {
	q := a.queueFor(chain)

	q.mu.Lock()
	due := make([]model.BatchCommitment, 0)
	for id, rb := range q.retrying {
		if time.Now().After(rb.backoff.nextAt) {
			due = append(due, rb.batch)
			delete(q.retrying, id)
		}
	}
	q.mu.Unlock()

	for _, batch := range due {
		record, execErr := a.executor.Submit(ctx, batch)
		if execErr != nil {
			if execErr.IsRetryable() {
				q.mu.Lock()
				rb := &retryingBatch{batch: batch}
				rb.backoff.schedule()
				q.retrying[batch.BatchID] = rb
				q.mu.Unlock()
				continue
			}
			a.setRecord(model.SettlementRecord{BatchID: batch.BatchID, Chain: chain, Status: model.StatusFailed})
			a.log.Audit("batch failed non-retryably after retry", "batchId", batch.BatchID, "reason", execErr.Reason)
			continue
		}
		record.Status = model.StatusSubmitted
		a.setRecord(record)
	}
}

func (a *Aggregator) setRecord(r model.SettlementRecord) {
	a.recordsMu.Lock()
	defer a.recordsMu.Unlock()
	a.records[r.BatchID] = r
}

// OnSettlementUpdate applies a monotonic status transition to a tracked
// batch. Illegal transitions (including updates to an unknown batch) are
// rejected without mutating state.
func (a *Aggregator) OnSettlementUpdate(batchID string, newStatus model.SettlementStatus, blockNumber, gasUsed uint64) error {
	a.recordsMu.Lock()
	defer a.recordsMu.Unlock()

	cur, ok := a.records[batchID]
	if !ok {
		return ErrUnknownBatch
	}
	if !model.CanTransition(cur.Status, newStatus) {
		return ErrIllegalStatus
	}
	cur.Status = newStatus
	cur.BlockNumber = blockNumber
	cur.GasUsed = gasUsed
	cur.SettledAt = time.Now()
	a.records[batchID] = cur
	return nil
}

// SettlementRecordFor returns the currently tracked record for a batch.
func (a *Aggregator) SettlementRecordFor(batchID string) (model.SettlementRecord, bool) {
	a.recordsMu.Lock()
	defer a.recordsMu.Unlock()
	r, ok := a.records[batchID]
	return r, ok
}

// QueueDepth reports the current FIFO length for a chain, for metrics and
// tests.
func (a *Aggregator) QueueDepth(chain string) int {
	q := a.queueFor(chain)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// StartFlushLoop launches one background goroutine per chain in chains,
// each driving FlushIfReady and RetryDueBatches off its own time.Ticker at
// the given period. Every goroutine exits when ctx is canceled.
//
// Grounded on the teacher's pkg/txpool/tx_jrnl.go flushLoop: a
// ticker-driven periodic task selecting between the ticker firing and a
// stop signal.
func (a *Aggregator) StartFlushLoop(ctx context.Context, chains []string, period time.Duration) {
	for _, chain := range chains {
		go a.flushLoopForChain(ctx, chain, period)
	}
}

func (a *Aggregator) flushLoopForChain(ctx context.Context, chain string, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := a.FlushIfReady(ctx, chain); err != nil {
				a.log.Warn("scheduled flush failed", "chain", chain, "err", err)
			}
			a.RetryDueBatches(ctx, chain)
		case <-ctx.Done():
			return
		}
	}
}
