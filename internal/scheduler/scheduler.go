// Package scheduler runs the follow-up and reminder batches.
//
// The Dispatcher scans due rows, claims each one with a conditional update and
// sends the templated message. Batches are triggered either over HTTP or by
// the in-process cron Scheduler.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultBatchTimeout bounds one cron-triggered run of both batches.
const DefaultBatchTimeout = 2 * time.Minute

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger), cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScheduleBatches runs the follow-up batch and then the reminder batch on expr.
func (s *Scheduler) ScheduleBatches(expr string, d *Dispatcher) error {
	return s.AddJob(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultBatchTimeout)
		defer cancel()
		if sum, err := d.RunFollowups(ctx); err != nil {
			slog.Error("Scheduler: follow-up batch failed", "error", err)
		} else {
			slog.Info("Scheduler: follow-up batch done", "processed", sum.Processed, "candidates", sum.Candidates)
		}
		if sum, err := d.RunReminders(ctx); err != nil {
			slog.Error("Scheduler: reminder batch failed", "error", err)
		} else {
			slog.Info("Scheduler: reminder batch done", "processed", sum.Processed, "candidates", sum.Candidates)
		}
	})
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
