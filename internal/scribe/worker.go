package scribe

import (
	"context"
	"fmt"
	"log"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/quorvex/scribe/internal/store"
)

// WorkerOptions configure the queue drainer. Zero values fall back to
// conservative defaults.
type WorkerOptions struct {
	PollInterval  time.Duration
	SweepInterval time.Duration
	ClaimTimeout  time.Duration
	DecaySchedule string
	DecayHalfLife time.Duration
}

// Worker drains the processing queue: claim, extract, merge, refresh the
// touched summaries, mark the event consumed. Jobs that fail are retried by
// the queue's own accounting; the worker never blocks on one bad event.
type Worker struct {
	engine    *store.Engine
	extractor Extractor

	pollInterval  time.Duration
	sweepInterval time.Duration
	claimTimeout  time.Duration
	decaySchedule string
	decayHalfLife time.Duration

	cron *rcron.Cron
}

func NewWorker(engine *store.Engine, extractor Extractor, opts WorkerOptions) *Worker {
	w := &Worker{
		engine:        engine,
		extractor:     extractor,
		pollInterval:  opts.PollInterval,
		sweepInterval: opts.SweepInterval,
		claimTimeout:  opts.ClaimTimeout,
		decaySchedule: opts.DecaySchedule,
		decayHalfLife: opts.DecayHalfLife,
	}
	if w.extractor == nil {
		w.extractor = HeuristicExtractor{}
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 2 * time.Second
	}
	if w.sweepInterval <= 0 {
		w.sweepInterval = time.Minute
	}
	if w.claimTimeout <= 0 {
		w.claimTimeout = 10 * time.Minute
	}
	if w.decayHalfLife <= 0 {
		w.decayHalfLife = 30 * 24 * time.Hour
	}
	return w
}

// Run blocks until ctx is canceled. On startup it reclaims jobs a crashed
// worker left behind, then polls the queue and lets cron drive the periodic
// recovery sweep and confidence decay.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.engine.ReclaimStuck(w.claimTimeout); err != nil {
		return fmt.Errorf("startup reclaim: %w", err)
	} else if n > 0 {
		log.Printf("[scribe] reclaimed %d stuck jobs on startup", n)
	}

	w.cron = rcron.New()
	if _, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.sweepInterval), func() {
		n, err := w.engine.ReclaimStuck(w.claimTimeout)
		if err != nil {
			log.Printf("[scribe] recovery sweep error: %v", err)
			return
		}
		if n > 0 {
			log.Printf("[scribe] recovery sweep reclaimed %d jobs", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule recovery sweep: %w", err)
	}
	if w.decaySchedule != "" {
		if _, err := w.cron.AddFunc(w.decaySchedule, func() {
			n, err := w.engine.DecayConfidence(w.decayHalfLife, 0.9)
			if err != nil {
				log.Printf("[scribe] decay error: %v", err)
				return
			}
			log.Printf("[scribe] decayed confidence on %d stale facts", n)
		}); err != nil {
			return fmt.Errorf("schedule decay %q: %w", w.decaySchedule, err)
		}
	}
	w.cron.Start()
	defer w.cron.Stop()

	log.Printf("[scribe] worker started")
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		processed, err := w.ProcessNext()
		if err != nil {
			log.Printf("[scribe] process error: %v", err)
		}
		if processed {
			// Keep draining while there is work.
			continue
		}
		select {
		case <-ctx.Done():
			log.Printf("[scribe] worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessNext claims and fully processes one job. Returns false when the
// queue has no pending work.
func (w *Worker) ProcessNext() (bool, error) {
	job, err := w.engine.ClaimNext()
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	ev, err := w.engine.EventByID(job.EventID)
	if err != nil {
		// Event gone is not retryable.
		if skipErr := w.engine.Skip(job.ID, fmt.Sprintf("event missing: %v", err)); skipErr != nil {
			return true, skipErr
		}
		return true, nil
	}

	candidates, err := w.extractor.Extract(ev)
	if err != nil {
		if failErr := w.engine.Fail(job.ID, err.Error()); failErr != nil {
			return true, failErr
		}
		return true, fmt.Errorf("extract event %d: %w", ev.ID, err)
	}

	if len(candidates) == 0 {
		if err := w.engine.Skip(job.ID, "no durable facts"); err != nil {
			return true, err
		}
		if err := w.engine.MarkConsumed(ev.ID); err != nil {
			return true, err
		}
		return true, nil
	}

	touched := map[string]bool{}
	for _, c := range candidates {
		outcome, err := w.engine.MergeCandidate(c)
		if err != nil {
			if failErr := w.engine.Fail(job.ID, err.Error()); failErr != nil {
				return true, failErr
			}
			return true, fmt.Errorf("merge candidate for event %d: %w", ev.ID, err)
		}
		log.Printf("[scribe] event %d: %s fact in %s", ev.ID, outcome, c.Category)
		touched[c.Category] = true
	}

	for category := range touched {
		if _, err := w.engine.RefreshSummary(category); err != nil {
			log.Printf("[scribe] refresh summary %s: %v", category, err)
		}
	}

	if err := w.engine.MarkConsumed(ev.ID); err != nil {
		return true, err
	}
	if err := w.engine.Complete(job.ID); err != nil {
		return true, err
	}
	return true, nil
}

// Drain processes jobs until the queue is empty, for one-shot CLI use.
func (w *Worker) Drain() (int, error) {
	count := 0
	for {
		processed, err := w.ProcessNext()
		if err != nil {
			return count, err
		}
		if !processed {
			return count, nil
		}
		count++
	}
}
