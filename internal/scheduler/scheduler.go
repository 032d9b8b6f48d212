package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quotehive/quotehive/internal/observability/metrics"
	paymentdomain "github.com/quotehive/quotehive/internal/payment/domain"
	payoutdomain "github.com/quotehive/quotehive/internal/payout/domain"
	quotedomain "github.com/quotehive/quotehive/internal/quote/domain"
	quoterequestdomain "github.com/quotehive/quotehive/internal/quoterequest/domain"
	"github.com/quotehive/quotehive/internal/ratelimit"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	QuoteRequestSvc quoterequestdomain.Service
	QuoteSvc        quotedomain.Service
	PaymentSvc      paymentdomain.Service
	PayoutSvc       payoutdomain.Service
	Metrics         *metrics.Metrics  `optional:"true"`
	Locker          *ratelimit.Locker `optional:"true"`
	Config          Config            `optional:"true"`
}

type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             Config
	metrics         *metrics.Metrics
	locker          *ratelimit.Locker
	quoteRequestSvc quoterequestdomain.Service
	quoteSvc        quotedomain.Service
	paymentSvc      paymentdomain.Service
	payoutSvc       payoutdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.QuoteRequestSvc == nil || p.QuoteSvc == nil || p.PaymentSvc == nil || p.PayoutSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler"),
		cfg:             p.Config.withDefaults(),
		metrics:         p.Metrics,
		locker:          p.Locker,
		quoteRequestSvc: p.QuoteRequestSvc,
		quoteSvc:        p.QuoteSvc,
		paymentSvc:      p.PaymentSvc,
		payoutSvc:       p.PayoutSvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	if s.metrics != nil {
		s.metrics.IncJobRun(name)
	}
	err := fn(ctx)
	if s.metrics != nil {
		s.metrics.ObserveJobDuration(name, time.Since(start))
	}
	if err == nil {
		return nil
	}
	if s.metrics != nil {
		s.metrics.IncJobError(name)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
		)
		return nil
	}
	s.log.Error("job failed", zap.String("job", name), zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"expire_requests", s.ExpireRequestsJob},
		{"expire_quotes", s.ExpireQuotesJob},
		{"reconcile_intents", s.ReconcileIntentsJob},
		{"payout_batch", s.PayoutBatchJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
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
	// Empty EnabledJobs means run everything.
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

func (s *Scheduler) ExpireRequestsJob(ctx context.Context) error {
	expired, err := s.quoteRequestSvc.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("expired quote requests", zap.Int64("count", expired))
	}
	return nil
}

func (s *Scheduler) ExpireQuotesJob(ctx context.Context) error {
	expired, err := s.quoteSvc.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("expired quotes", zap.Int64("count", expired))
	}
	return nil
}

func (s *Scheduler) ReconcileIntentsJob(ctx context.Context) error {
	resolved, err := s.paymentSvc.ReconcileIntents(ctx, s.cfg.ReconcileMinAge)
	if err != nil {
		return err
	}
	if resolved > 0 {
		s.log.Info("reconciled stale payment intents", zap.Int("count", resolved))
	}
	return nil
}

// PayoutBatchJob sweeps eligible providers at most once per
// PayoutInterval. The interval check reads the payouts table so the
// cadence survives restarts, and a redis lock keeps two instances from
// sweeping at the same time.
func (s *Scheduler) PayoutBatchJob(ctx context.Context) error {
	due, err := s.payoutDue(ctx)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}

	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, "jobs:payout_batch", s.cfg.JobTimeout)
		if err != nil {
			s.log.Warn("payout batch lock unavailable", zap.Error(err))
		} else if lease == nil {
			// Another instance holds the sweep.
			return nil
		} else {
			defer func() {
				if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
					s.log.Warn("payout batch lock release failed", zap.Error(err))
				}
			}()
		}
	}

	result, err := s.payoutSvc.RunBatch(ctx)
	if err != nil {
		return err
	}
	s.log.Info("payout batch finished",
		zap.Int("candidates", result.Candidates),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int64("total_paid", result.TotalPaid),
	)
	return nil
}

func (s *Scheduler) payoutDue(ctx context.Context) (bool, error) {
	var last sql.NullTime
	err := s.db.WithContext(ctx).
		Model(&payoutdomain.Payout{}).
		Select("MAX(created_at) AS last_created").
		Scan(&last).Error
	if err != nil {
		return false, err
	}
	if !last.Valid {
		return true, nil
	}
	return time.Since(last.Time) >= s.cfg.PayoutInterval, nil
}
