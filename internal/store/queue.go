package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Enqueue adds a job for an event. Priority runs 1-10, higher served first;
// zero means the configured default. AppendEvent already enqueues, so this
// exists for re-queueing and for out-of-band producers.
func (e *Engine) Enqueue(eventID int64, priority int) (int64, error) {
	if priority == 0 {
		priority = e.defaultPriority
	}
	if priority < 1 || priority > 10 {
		return 0, fmt.Errorf("enqueue event %d: priority %d out of range", eventID, priority)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(`
		INSERT INTO scribe_queue (event_id, priority, status, created_at)
		VALUES (?, ?, ?, ?)
	`, eventID, priority, JobPending, now())
	if err != nil {
		return 0, fmt.Errorf("enqueue event %d: %w", eventID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue job id: %w", err)
	}
	return id, nil
}

const claimRetries = 5

// ClaimNext atomically claims the highest-priority pending job, oldest first
// on ties. The claim is a conditional update gated on status still being
// pending, so two workers can never hold the same job; a lost race is
// retried internally a few times before reporting no work.
func (e *Engine) ClaimNext() (*QueueJob, error) {
	for i := 0; i < claimRetries; i++ {
		job, err := e.tryClaim()
		if errors.Is(err, ErrClaimLost) {
			continue
		}
		return job, err
	}
	return nil, nil
}

func (e *Engine) tryClaim() (*QueueJob, error) {
	var id int64
	err := e.db.QueryRow(`
		SELECT id FROM scribe_queue
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT 1
	`, JobPending).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claim candidate: %w", err)
	}

	res, err := e.db.Exec(`
		UPDATE scribe_queue
		SET status = ?, attempts = attempts + 1, last_attempt = ?
		WHERE id = ? AND status = ?
	`, JobProcessing, now(), id, JobPending)
	if err != nil {
		return nil, fmt.Errorf("claim job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrClaimLost
	}
	return e.JobByID(id)
}

// Complete marks a claimed job done.
func (e *Engine) Complete(jobID int64) error {
	return e.transition(jobID, JobProcessing, JobCompleted, "")
}

// Fail records the error and either re-queues the job for retry or, once
// attempts reach the configured maximum, parks it in the terminal failed
// state for operator attention.
func (e *Engine) Fail(jobID int64, errMsg string) error {
	job, err := e.JobByID(jobID)
	if err != nil {
		return err
	}
	next := JobPending
	if job.Attempts >= e.maxAttempts {
		next = JobFailed
	}
	return e.transition(jobID, JobProcessing, next, errMsg)
}

// Skip marks a job whose extraction legitimately produced nothing.
func (e *Engine) Skip(jobID int64, reason string) error {
	return e.transition(jobID, JobProcessing, JobSkipped, reason)
}

func (e *Engine) transition(jobID int64, from, to, errMsg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(`
		UPDATE scribe_queue
		SET status = ?, error = ?
		WHERE id = ? AND status = ?
	`, to, errMsg, jobID, from)
	if err != nil {
		return fmt.Errorf("job %d %s->%s: %w", jobID, from, to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %d not in %s: %w", jobID, from, ErrNotFound)
	}
	return nil
}

// ReclaimStuck is the recovery sweep: jobs left in processing past the
// timeout (a crashed worker) go back to pending for retry. Returns how many
// were reclaimed.
func (e *Engine) ReclaimStuck(olderThan time.Duration) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeFormat)
	res, err := e.db.Exec(`
		UPDATE scribe_queue
		SET status = ?, error = 'reclaimed by recovery sweep'
		WHERE status = ? AND last_attempt < ?
	`, JobPending, JobProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// JobByID fetches one job.
func (e *Engine) JobByID(id int64) (*QueueJob, error) {
	row := e.db.QueryRow(`
		SELECT id, event_id, priority, status, attempts, last_attempt, error, created_at
		FROM scribe_queue
		WHERE id = ?
	`, id)

	var j QueueJob
	err := row.Scan(&j.ID, &j.EventID, &j.Priority, &j.Status, &j.Attempts, &j.LastAttempt, &j.Error, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", id, err)
	}
	return &j, nil
}

// JobsByStatus lists jobs for audit; all five states are retained forever.
func (e *Engine) JobsByStatus(status string, limit int) ([]QueueJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := e.db.Query(`
		SELECT id, event_id, priority, status, attempts, last_attempt, error, created_at
		FROM scribe_queue
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("jobs by status: %w", err)
	}
	defer rows.Close()

	result := make([]QueueJob, 0)
	for rows.Next() {
		var j QueueJob
		if err := rows.Scan(&j.ID, &j.EventID, &j.Priority, &j.Status, &j.Attempts, &j.LastAttempt, &j.Error, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return result, nil
}
