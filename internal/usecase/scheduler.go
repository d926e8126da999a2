package usecase

import (
	"context"
	"time"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
)

// Scheduler drives RunCycle from a ports.Scheduler and on demand. Both paths
// go through the pipeline's cycle lock.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
}

// NewScheduler pairs an interval driver with the orchestrator.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline) *Scheduler {
	return &Scheduler{driver: driver, pipeline: pipeline}
}

// Start registers the cycle job with the driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	return s.driver.Start(ctx, func(trigger time.Time) {
		out := s.pipeline.RunCycle(ctx)
		s.pipeline.logger.Debug("scheduled cycle finished",
			"trigger", trigger.Format(time.RFC3339),
			"success", out.Success)
	})
}

// RunNow runs one cycle outside the schedule. It waits for a cycle already in
// progress to finish first.
func (s *Scheduler) RunNow(ctx context.Context) domain.CycleOutcome {
	return s.pipeline.RunCycle(ctx)
}

// Stop halts the driver and waits for an in-flight cycle.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}
