package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("*/5 * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
}

func TestSchedulerAddJobRejectsInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("every five minutes", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
	// Seconds field is not accepted by the 5-field parser
	if err := s.AddJob("0 */5 * * * *", func() {}); err == nil {
		t.Error("Expected error for 6-field expression")
	}
}

func TestSchedulerRunsDescriptorJob(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	if err := s.AddJob("@every 1s", func() { runs.Add(1) }); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
	if runs.Load() == 0 {
		t.Fatal("Expected job to run at least once")
	}
}

func TestSchedulerScheduleBatches(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	d := NewDispatcher(nil, nil)
	if err := s.ScheduleBatches("*/10 * * * *", d); err != nil {
		t.Errorf("Expected no error scheduling batches, got %v", err)
	}
	if err := s.ScheduleBatches("bogus", d); err == nil {
		t.Error("Expected error for invalid batch schedule")
	}
}
