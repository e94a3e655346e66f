// Package relay owns the relayer identity's outbound pipeline: a single
// serialized submission queue, sequence-number assignment, bounded retries
// with exponential backoff, and idempotent receipt reporting.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/trustbet/relayd/internal/domain"
)

// Endpoint is the ledger endpoint the submitter drives. Implementations wrap
// their failures in the domain error taxonomy so the submitter can decide
// between retry and terminal failure.
type Endpoint interface {
	// PendingSequence returns the next unconsumed sequence number for the
	// relayer identity.
	PendingSequence(ctx context.Context) (uint64, error)

	// SubmitBet sends one bet transaction under the given sequence number.
	SubmitBet(ctx context.Context, sequence uint64, job domain.RelayJob) (common.Hash, error)

	// WaitConfirmed blocks until the transaction is included or ctx expires.
	WaitConfirmed(ctx context.Context, txHash common.Hash) (domain.Receipt, error)
}

// Config holds the submitter's retry and confirmation policy.
type Config struct {
	MaxAttempts    int           // submission attempts per job, >= 1
	RetryBaseDelay time.Duration // first backoff; doubles per attempt
	ConfirmTimeout time.Duration // max wait for inclusion
	QueueSize      int           // pending job buffer
}

func (c *Config) setDefaults() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 60 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

// queued is one job waiting in the FIFO plus its completion signal. Waiters
// read receipt/err only after done is closed.
type queued struct {
	job       domain.RelayJob
	cancelled bool
	mu        sync.Mutex

	done    chan struct{}
	receipt domain.Receipt
	err     error
}

func (q *queued) cancel() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancelled {
		return true
	}
	q.cancelled = true
	return true
}

func (q *queued) isCancelled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled
}

func (q *queued) finish(r domain.Receipt, err error) {
	q.receipt = r
	q.err = err
	close(q.done)
}

// Submitter serializes every outbound transaction from the relayer identity.
// At most one submission is in flight at a time; sequence numbers are
// assigned at dispatch, journaled before the send, reused across transient
// retries, and consumed by any terminal outcome of a sent transaction.
type Submitter struct {
	endpoint Endpoint
	journal  domain.JobStore      // optional durable job journal
	receipts domain.ReceiptCache  // optional fast idempotency cache
	cfg      Config
	logger   *slog.Logger

	queue chan *queued

	mu       sync.Mutex
	inflight map[common.Hash]*queued // pending/submitted jobs by signature hash
}

// NewSubmitter creates a Submitter. journal and receipts may be nil; the
// submitter then degrades to in-memory idempotency only.
func NewSubmitter(endpoint Endpoint, journal domain.JobStore, receipts domain.ReceiptCache, cfg Config, logger *slog.Logger) *Submitter {
	cfg.setDefaults()
	return &Submitter{
		endpoint: endpoint,
		journal:  journal,
		receipts: receipts,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "relay")),
		queue:    make(chan *queued, cfg.QueueSize),
		inflight: make(map[common.Hash]*queued),
	}
}

// Submit queues a job and blocks until it reaches a terminal status or ctx
// is cancelled. A duplicate request for an already-confirmed signature
// returns the original receipt without re-submitting. Cancelling ctx only
// prevents a not-yet-dispatched job from being sent; a dispatched job runs
// to completion in the background.
func (s *Submitter) Submit(ctx context.Context, job domain.RelayJob) (domain.Receipt, error) {
	sigHash := job.SigHash()

	if r, ok, err := s.cachedReceipt(ctx, sigHash); err == nil && ok {
		r.Duplicate = true
		return r, nil
	}

	// Join an in-flight submission for the same signature instead of
	// double-queueing it.
	s.mu.Lock()
	if existing, ok := s.inflight[sigHash]; ok {
		s.mu.Unlock()
		return s.wait(ctx, existing)
	}

	job.ID = uuid.New().String()
	job.Status = domain.JobPending
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt

	q := &queued{job: job, done: make(chan struct{})}
	s.inflight[sigHash] = q
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.Create(ctx, job); err != nil {
			s.remove(sigHash)
			return domain.Receipt{}, fmt.Errorf("relay: journal job: %w", err)
		}
	}

	select {
	case s.queue <- q:
	case <-ctx.Done():
		s.remove(sigHash)
		return domain.Receipt{}, fmt.Errorf("relay: enqueue: %w", domain.ErrJobCancelled)
	}

	return s.wait(ctx, q)
}

// wait blocks for the job's terminal result, or marks it cancelled when the
// caller gives up first.
func (s *Submitter) wait(ctx context.Context, q *queued) (domain.Receipt, error) {
	select {
	case <-q.done:
		return q.receipt, q.err
	case <-ctx.Done():
		q.cancel()
		return domain.Receipt{}, fmt.Errorf("relay: caller gone: %w", domain.ErrJobCancelled)
	}
}

func (s *Submitter) remove(sigHash common.Hash) {
	s.mu.Lock()
	delete(s.inflight, sigHash)
	s.mu.Unlock()
}

func (s *Submitter) cachedReceipt(ctx context.Context, sigHash common.Hash) (domain.Receipt, bool, error) {
	if s.receipts != nil {
		if r, ok, err := s.receipts.Get(ctx, sigHash); err == nil && ok {
			return r, true, nil
		}
	}
	if s.journal != nil {
		j, err := s.journal.GetBySigHash(ctx, sigHash)
		if err == nil && j.Status == domain.JobConfirmed {
			return domain.Receipt{TxHash: j.TxHash, Sequence: j.Sequence, MarketID: j.MarketID}, true, nil
		}
	}
	return domain.Receipt{}, false, nil
}

// Run is the single dispatch loop. It owns the sequence counter: no other
// goroutine reads or advances it.
func (s *Submitter) Run(ctx context.Context) error {
	seq, err := s.endpoint.PendingSequence(ctx)
	if err != nil {
		return fmt.Errorf("relay: fetch pending sequence: %w", err)
	}
	s.logger.InfoContext(ctx, "submitter started", slog.Uint64("sequence", seq))

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return ctx.Err()
		case q := <-s.queue:
			seq = s.dispatch(ctx, q, seq)
		}
	}
}

// dispatch runs one job to a terminal status and returns the next sequence
// number to use.
func (s *Submitter) dispatch(ctx context.Context, q *queued, seq uint64) uint64 {
	defer s.remove(q.job.SigHash())

	log := s.logger.With(
		slog.String("job_id", q.job.ID),
		slog.Uint64("market_id", q.job.MarketID),
		slog.Uint64("sequence", seq),
	)

	if q.isCancelled() {
		s.markFailed(ctx, q.job.ID, domain.ErrJobCancelled.Error())
		q.finish(domain.Receipt{}, domain.ErrJobCancelled)
		return seq
	}

	// Record the sequence assignment durably before anything leaves the
	// process, so a crash cannot hand the slot to two submissions.
	if s.journal != nil {
		if err := s.journal.MarkDispatched(ctx, q.job.ID, seq); err != nil {
			log.ErrorContext(ctx, "sequence journaling failed", slog.String("error", err.Error()))
			q.finish(domain.Receipt{}, fmt.Errorf("relay: journal sequence: %w", err))
			return seq
		}
	}
	q.job.Sequence = seq
	q.job.HasSequence = true

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		txHash, err := s.endpoint.SubmitBet(ctx, seq, q.job)
		if err != nil {
			if domain.IsTransient(err) {
				lastErr = err
				log.WarnContext(ctx, "transient submission failure",
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
				if !s.backoff(ctx, attempt) {
					break
				}
				continue
			}

			// Permanent rejection: the transaction was considered by the
			// ledger and refused. The sequence number is consumed; the job
			// must not be silently retried with a stale signature.
			log.WarnContext(ctx, "submission rejected",
				slog.String("error", err.Error()),
			)
			s.markFailed(ctx, q.job.ID, err.Error())
			q.finish(domain.Receipt{}, err)
			return seq + 1
		}

		if s.journal != nil {
			if jerr := s.journal.MarkSubmitted(ctx, q.job.ID, txHash, attempt); jerr != nil {
				log.WarnContext(ctx, "submitted-status journaling failed", slog.String("error", jerr.Error()))
			}
		}

		confirmCtx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
		receipt, err := s.endpoint.WaitConfirmed(confirmCtx, txHash)
		cancel()
		if err != nil {
			// The transaction is outstanding: its fate is unknown but the
			// sequence slot is spent. Explicit terminal status, never
			// silently abandoned.
			reason := fmt.Errorf("relay: confirmation: %w", domain.ErrConfirmationTimeout)
			if !errors.Is(err, context.DeadlineExceeded) {
				reason = fmt.Errorf("relay: confirmation: %w", err)
			}
			log.ErrorContext(ctx, "confirmation failed",
				slog.String("tx_hash", txHash.Hex()),
				slog.String("error", err.Error()),
			)
			s.markFailed(ctx, q.job.ID, reason.Error())
			q.finish(domain.Receipt{}, reason)
			return seq + 1
		}

		s.markConfirmed(ctx, q.job.ID, receipt, q.job.SigHash())
		log.InfoContext(ctx, "submission confirmed",
			slog.String("tx_hash", receipt.TxHash.Hex()),
			slog.Int("attempts", attempt),
		)
		q.finish(receipt, nil)
		return seq + 1
	}

	// Transient failures exhausted the attempt budget. The transaction was
	// never accepted anywhere, so the sequence number stays unconsumed and
	// its journal entry must be released for the next job.
	err := fmt.Errorf("relay: %d attempts: %w: %w", s.cfg.MaxAttempts, domain.ErrRelayFailed, lastErr)
	s.markAbandoned(ctx, q.job.ID, err.Error())
	q.finish(domain.Receipt{}, err)
	return seq
}

// backoff sleeps for RetryBaseDelay * 2^(attempt-1). Returns false when ctx
// was cancelled during the wait.
func (s *Submitter) backoff(ctx context.Context, attempt int) bool {
	delay := s.cfg.RetryBaseDelay << (attempt - 1)
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Submitter) markFailed(ctx context.Context, id, reason string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.MarkFailed(context.WithoutCancel(ctx), id, reason); err != nil {
		s.logger.WarnContext(ctx, "failed-status journaling failed", slog.String("error", err.Error()))
	}
}

func (s *Submitter) markAbandoned(ctx context.Context, id, reason string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.MarkAbandoned(context.WithoutCancel(ctx), id, reason); err != nil {
		s.logger.WarnContext(ctx, "abandoned-status journaling failed", slog.String("error", err.Error()))
	}
}

func (s *Submitter) markConfirmed(ctx context.Context, id string, r domain.Receipt, sigHash common.Hash) {
	ctx = context.WithoutCancel(ctx)
	if s.journal != nil {
		if err := s.journal.MarkConfirmed(ctx, id, r.TxHash); err != nil {
			s.logger.WarnContext(ctx, "confirmed-status journaling failed", slog.String("error", err.Error()))
		}
	}
	if s.receipts != nil {
		if err := s.receipts.Put(ctx, sigHash, r); err != nil {
			s.logger.WarnContext(ctx, "receipt caching failed", slog.String("error", err.Error()))
		}
	}
}

// drain fails any jobs still queued at shutdown so no caller hangs.
func (s *Submitter) drain() {
	for {
		select {
		case q := <-s.queue:
			s.remove(q.job.SigHash())
			q.finish(domain.Receipt{}, fmt.Errorf("relay: shutting down: %w", domain.ErrJobCancelled))
		default:
			return
		}
	}
}
