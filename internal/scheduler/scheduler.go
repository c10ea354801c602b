package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobWebhookReplay = "webhook_replay"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	WebhookSvc paymentdomain.WebhookService
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Config     Config              `optional:"true"`
}

// Scheduler runs periodic reconciliation jobs inside the API process.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	webhookSvc paymentdomain.WebhookService
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.WebhookSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		webhookSvc: p.WebhookSvc,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}

	err := fn(ctx)
	if owner {
		if err != nil && run.errorCount == 0 {
			run.AddErrors(1)
		}
		s.logJobFinish(ctx, run)
	}
	elapsed := s.clock.Now().Sub(start)
	if err == nil {
		s.obsMetrics.RecordJobRun(ctx, name, "ok", elapsed)
		return nil
	}

	// deadline is a soft timeout; the next tick picks up where this one stopped
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.obsMetrics.RecordJobRun(ctx, name, "timeout", elapsed)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	s.obsMetrics.RecordJobRun(ctx, name, "error", elapsed)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{jobWebhookReplay, s.WebhookReplayJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// WebhookReplayJob re-applies webhook deliveries that were recorded but never
// finished, e.g. because the process stopped between insert and apply.
// Deliveries younger than ReplayAfter are left to the in-flight request.
func (s *Scheduler) WebhookReplayJob(ctx context.Context) error {
	ctx, run, _ := s.ensureJobRun(ctx, jobWebhookReplay, s.cfg.BatchSize)

	now := s.clock.Now()
	before := now.Add(-s.cfg.ReplayAfter)
	from := now.Add(-s.cfg.ReplayWindow)

	for {
		summary, err := s.webhookSvc.ReplayPending(ctx, from, before, s.cfg.BatchSize)
		run.AddProcessed(summary.Replayed)
		run.AddErrors(summary.Failed)
		if err != nil {
			return err
		}
		// failed events stay unprocessed; stop instead of refetching them
		if summary.Failed > 0 || summary.Replayed < s.cfg.BatchSize {
			return nil
		}
	}
}
