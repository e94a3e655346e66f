package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trustbet/relayd/internal/domain"
)

// JobStore implements domain.JobStore using PostgreSQL. The unique partial
// index on sequence is the last line of defense against the same account
// nonce being journaled for two different jobs.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a JobStore backed by the given connection pool.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Create inserts a freshly accepted relay job in pending state.
func (s *JobStore) Create(ctx context.Context, job domain.RelayJob) error {
	const query = `
		INSERT INTO relay_jobs (
			id, sig_hash, market_id, side, amount, bettor, deadline,
			permit_nonce, sig_v, sig_r, sig_s, status, attempts,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, 0,
			NOW(), NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.SigHash().Hex(),
		int64(job.MarketID),
		job.Side,
		job.Amount.String(),
		job.Bettor.Hex(),
		int64(job.Deadline),
		job.Nonce.String(),
		int16(job.V),
		common.Hash(job.R).Hex(),
		common.Hash(job.S).Hex(),
		string(domain.JobPending),
	)
	if err != nil {
		return fmt.Errorf("postgres: create job %s: %w", job.ID, err)
	}
	return nil
}

// MarkDispatched persists the sequence assignment before submission.
func (s *JobStore) MarkDispatched(ctx context.Context, id string, sequence uint64) error {
	const query = `
		UPDATE relay_jobs SET sequence = $1, updated_at = NOW()
		WHERE id = $2`
	tag, err := s.pool.Exec(ctx, query, int64(sequence), id)
	if err != nil {
		return fmt.Errorf("postgres: mark job %s dispatched: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkSubmitted records a sent transaction hash and the attempt count.
func (s *JobStore) MarkSubmitted(ctx context.Context, id string, txHash common.Hash, attempts int) error {
	const query = `
		UPDATE relay_jobs SET status = $1, tx_hash = $2, attempts = $3, updated_at = NOW()
		WHERE id = $4`
	tag, err := s.pool.Exec(ctx, query, string(domain.JobSubmitted), txHash.Hex(), attempts, id)
	if err != nil {
		return fmt.Errorf("postgres: mark job %s submitted: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkConfirmed records terminal success.
func (s *JobStore) MarkConfirmed(ctx context.Context, id string, txHash common.Hash) error {
	const query = `
		UPDATE relay_jobs SET status = $1, tx_hash = $2, updated_at = NOW()
		WHERE id = $3`
	tag, err := s.pool.Exec(ctx, query, string(domain.JobConfirmed), txHash.Hex(), id)
	if err != nil {
		return fmt.Errorf("postgres: mark job %s confirmed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed records terminal failure with its reason.
func (s *JobStore) MarkFailed(ctx context.Context, id string, reason string) error {
	const query = `
		UPDATE relay_jobs SET status = $1, fail_reason = $2, updated_at = NOW()
		WHERE id = $3`
	tag, err := s.pool.Exec(ctx, query, string(domain.JobFailed), reason, id)
	if err != nil {
		return fmt.Errorf("postgres: mark job %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkAbandoned records terminal failure and clears the job's sequence
// number. Without the release, the partial unique index on sequence would
// reject the next job dispatched under the same number and wedge the queue.
func (s *JobStore) MarkAbandoned(ctx context.Context, id string, reason string) error {
	const query = `
		UPDATE relay_jobs SET status = $1, fail_reason = $2, sequence = NULL, updated_at = NOW()
		WHERE id = $3`
	tag, err := s.pool.Exec(ctx, query, string(domain.JobFailed), reason, id)
	if err != nil {
		return fmt.Errorf("postgres: mark job %s abandoned: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const jobSelectCols = `id, sig_hash, market_id, side, amount, bettor, deadline,
	permit_nonce, sig_v, sig_r, sig_s, status, sequence, attempts,
	tx_hash, fail_reason, created_at, updated_at`

// GetBySigHash returns the most recent job for a permit signature.
func (s *JobStore) GetBySigHash(ctx context.Context, sigHash common.Hash) (domain.RelayJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM relay_jobs
		WHERE sig_hash = $1
		ORDER BY created_at DESC
		LIMIT 1`, jobSelectCols)

	job, err := scanJob(s.pool.QueryRow(ctx, query, sigHash.Hex()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RelayJob{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RelayJob{}, fmt.Errorf("postgres: get job by sig hash %s: %w", sigHash.Hex(), err)
	}
	return job, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (domain.RelayJob, error) {
	var j domain.RelayJob
	var sigHash, amount, bettor, nonce, sigR, sigS, status string
	var marketID, deadline int64
	var sigV int16
	var sequence *int64
	var txHash, failReason *string

	err := scanner.Scan(
		&j.ID, &sigHash, &marketID, &j.Side, &amount, &bettor, &deadline,
		&nonce, &sigV, &sigR, &sigS, &status, &sequence, &j.Attempts,
		&txHash, &failReason, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return domain.RelayJob{}, err
	}

	j.MarketID = uint64(marketID)
	j.Deadline = uint64(deadline)
	j.Bettor = common.HexToAddress(bettor)
	j.V = uint8(sigV)
	j.R = common.HexToHash(sigR)
	j.S = common.HexToHash(sigS)
	j.Status = domain.JobStatus(status)

	var ok bool
	if j.Amount, ok = new(big.Int).SetString(amount, 10); !ok {
		return domain.RelayJob{}, fmt.Errorf("bad amount %q", amount)
	}
	if j.Nonce, ok = new(big.Int).SetString(nonce, 10); !ok {
		return domain.RelayJob{}, fmt.Errorf("bad permit nonce %q", nonce)
	}
	if sequence != nil {
		j.Sequence = uint64(*sequence)
		j.HasSequence = true
	}
	if txHash != nil {
		j.TxHash = common.HexToHash(*txHash)
	}
	if failReason != nil {
		j.FailReason = *failReason
	}
	return j, nil
}
