package store

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func appendPlain(t *testing.T, e *Engine, text string) int64 {
	t.Helper()
	id, _, err := e.AppendEvent("s1", KindUserInput, "", text, nil)
	if err != nil {
		t.Fatalf("AppendEvent error: %v", err)
	}
	return id
}

func TestClaimHighestPriorityFirst(t *testing.T) {
	e := newTestEngine(t)

	low := appendPlain(t, e, "low")
	high := appendPlain(t, e, "high")

	// Drop the auto-enqueued jobs and queue with explicit priorities.
	if _, err := e.db.Exec(`DELETE FROM scribe_queue`); err != nil {
		t.Fatalf("clear queue: %v", err)
	}
	if _, err := e.Enqueue(low, 3); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if _, err := e.Enqueue(high, 9); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	job, err := e.ClaimNext()
	if err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}
	if job == nil || job.EventID != high {
		t.Fatalf("claimed %+v, want event %d", job, high)
	}
	if job.Status != JobProcessing || job.Attempts != 1 {
		t.Errorf("job after claim = %+v", job)
	}

	job, err = e.ClaimNext()
	if err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}
	if job == nil || job.EventID != low {
		t.Fatalf("claimed %+v, want event %d", job, low)
	}

	job, err = e.ClaimNext()
	if err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}
	if job != nil {
		t.Errorf("empty queue returned %+v", job)
	}
}

func TestClaimTieBreaksOldestFirst(t *testing.T) {
	e := newTestEngine(t)

	var events []int64
	for i := 0; i < 3; i++ {
		events = append(events, appendPlain(t, e, fmt.Sprintf("event %d", i)))
		time.Sleep(time.Millisecond)
	}
	for i, id := range events {
		job, err := e.ClaimNext()
		if err != nil {
			t.Fatalf("ClaimNext error: %v", err)
		}
		if job == nil || job.EventID != id {
			t.Fatalf("claim %d = %+v, want event %d", i, job, id)
		}
	}
}

func TestClaimExclusive(t *testing.T) {
	e := newTestEngine(t)

	const jobs = 20
	for i := 0; i < jobs; i++ {
		appendPlain(t, e, fmt.Sprintf("event %d", i))
	}

	var mu sync.Mutex
	claimed := make(map[int64]int)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := e.ClaimNext()
				if err != nil {
					t.Errorf("ClaimNext error: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
				if err := e.Complete(job.ID); err != nil {
					t.Errorf("Complete error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Errorf("claimed %d distinct jobs, want %d", len(claimed), jobs)
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("job %d claimed %d times", id, n)
		}
	}
}

func TestFailRetriesThenParks(t *testing.T) {
	e := newTestEngine(t)
	appendPlain(t, e, "stubborn event")

	var jobID int64
	for attempt := 1; attempt <= 3; attempt++ {
		job, err := e.ClaimNext()
		if err != nil {
			t.Fatalf("ClaimNext error: %v", err)
		}
		if job == nil {
			t.Fatalf("attempt %d: no job to claim", attempt)
		}
		jobID = job.ID
		if job.Attempts != attempt {
			t.Errorf("attempt %d: attempts = %d", attempt, job.Attempts)
		}
		if err := e.Fail(job.ID, "extractor unavailable"); err != nil {
			t.Fatalf("Fail error: %v", err)
		}
	}

	job, err := e.JobByID(jobID)
	if err != nil {
		t.Fatalf("JobByID error: %v", err)
	}
	if job.Status != JobFailed {
		t.Errorf("status after max attempts = %q, want failed", job.Status)
	}
	if job.Error != "extractor unavailable" {
		t.Errorf("error = %q", job.Error)
	}

	next, err := e.ClaimNext()
	if err != nil {
		t.Fatalf("ClaimNext error: %v", err)
	}
	if next != nil {
		t.Errorf("terminal job reclaimed: %+v", next)
	}
}

func TestSkip(t *testing.T) {
	e := newTestEngine(t)
	appendPlain(t, e, "small talk")

	job, err := e.ClaimNext()
	if err != nil || job == nil {
		t.Fatalf("ClaimNext = %+v, %v", job, err)
	}
	if err := e.Skip(job.ID, "no candidates"); err != nil {
		t.Fatalf("Skip error: %v", err)
	}

	got, err := e.JobByID(job.ID)
	if err != nil {
		t.Fatalf("JobByID error: %v", err)
	}
	if got.Status != JobSkipped {
		t.Errorf("status = %q, want skipped", got.Status)
	}
}

func TestReclaimStuck(t *testing.T) {
	e := newTestEngine(t)
	appendPlain(t, e, "abandoned event")

	job, err := e.ClaimNext()
	if err != nil || job == nil {
		t.Fatalf("ClaimNext = %+v, %v", job, err)
	}

	// A generous timeout leaves the fresh claim alone.
	n, err := e.ReclaimStuck(time.Hour)
	if err != nil {
		t.Fatalf("ReclaimStuck error: %v", err)
	}
	if n != 0 {
		t.Errorf("reclaimed %d fresh jobs", n)
	}

	time.Sleep(5 * time.Millisecond)
	n, err = e.ReclaimStuck(time.Millisecond)
	if err != nil {
		t.Fatalf("ReclaimStuck error: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}

	got, err := e.JobByID(job.ID)
	if err != nil {
		t.Fatalf("JobByID error: %v", err)
	}
	if got.Status != JobPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	// Attempts survive the reclaim so retry accounting still converges.
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
}

func TestEnqueuePriorityRange(t *testing.T) {
	e := newTestEngine(t)
	id := appendPlain(t, e, "boundary check")

	if _, err := e.Enqueue(id, 11); err == nil {
		t.Error("priority 11 accepted")
	}
	if _, err := e.Enqueue(id, -1); err == nil {
		t.Error("priority -1 accepted")
	}
	jobID, err := e.Enqueue(id, 0)
	if err != nil {
		t.Fatalf("Enqueue default error: %v", err)
	}
	job, err := e.JobByID(jobID)
	if err != nil {
		t.Fatalf("JobByID error: %v", err)
	}
	if job.Priority != 5 {
		t.Errorf("default priority = %d, want 5", job.Priority)
	}
}
