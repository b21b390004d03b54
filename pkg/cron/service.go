// Package cron runs background jobs on cron expressions.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/relayclaw/pkg/logger"
)

type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context)
}

// Service ticks once a minute and runs every job whose cron expression is
// due. Jobs run inline on the ticker goroutine; they are expected to be
// short sweeps, not long-lived work.
type Service struct {
	gron *gronx.Gronx
	jobs []Job
}

func NewService() *Service {
	return &Service{gron: gronx.New()}
}

func (s *Service) Add(job Job) error {
	if !s.gron.IsValid(job.Schedule) {
		return fmt.Errorf("invalid cron expression %q for job %s", job.Schedule, job.Name)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start runs the scheduler until the context is cancelled.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, job := range s.jobs {
				due, err := s.gron.IsDue(job.Schedule, now)
				if err != nil {
					logger.WarnCF("cron", "Schedule check failed", map[string]any{
						"job":   job.Name,
						"error": err.Error(),
					})
					continue
				}
				if due {
					logger.DebugC("cron", "Running job "+job.Name)
					job.Run(ctx)
				}
			}
		}
	}
}
