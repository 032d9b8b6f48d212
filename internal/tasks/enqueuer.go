package tasks

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/quotehive/quotehive/internal/config"
	"github.com/quotehive/quotehive/internal/observability/metrics"
)

var Module = fx.Module("tasks",
	fx.Provide(NewClient, NewEnqueuer),
)

func NewClient(lc fx.Lifecycle, cfg config.Config) *asynq.Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

// Enqueuer is the single seam feature services use to hand work to the
// background worker. Enqueue failures are logged, not returned: the
// reconcile sweep re-derives anything dropped here.
type Enqueuer struct {
	client  *asynq.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

type EnqueuerParams struct {
	fx.In

	Client  *asynq.Client
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

func NewEnqueuer(p EnqueuerParams) *Enqueuer {
	return &Enqueuer{
		client:  p.Client,
		log:     p.Log.Named("tasks.enqueuer"),
		metrics: p.Metrics,
	}
}

func (e *Enqueuer) NotifyUser(ctx context.Context, payload NotificationDeliverPayload) {
	task, err := NewNotificationDeliverTask(payload)
	if err != nil {
		e.log.Error("failed to build notification task", zap.Error(err))
		return
	}
	e.enqueue(ctx, task)
}

func (e *Enqueuer) SendEmail(ctx context.Context, payload EmailSendPayload) {
	task, err := NewEmailSendTask(payload)
	if err != nil {
		e.log.Error("failed to build email task", zap.Error(err))
		return
	}
	e.enqueue(ctx, task)
}

func (e *Enqueuer) MatchRequest(ctx context.Context, payload RequestMatchPayload) error {
	task, err := NewRequestMatchTask(payload)
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	e.recordEnqueued(task.Type())
	e.log.Debug("task enqueued", zap.String("type", task.Type()), zap.String("task_id", info.ID))
	return nil
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task) {
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		e.log.Error("failed to enqueue task", zap.String("type", task.Type()), zap.Error(err))
		return
	}
	e.recordEnqueued(task.Type())
	e.log.Debug("task enqueued", zap.String("type", task.Type()), zap.String("task_id", info.ID))
}

func (e *Enqueuer) recordEnqueued(taskType string) {
	if e.metrics != nil {
		e.metrics.RecordTaskEnqueued(taskType)
	}
}
