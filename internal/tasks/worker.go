package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/quotehive/quotehive/internal/config"
	notificationdomain "github.com/quotehive/quotehive/internal/notification/domain"
	"github.com/quotehive/quotehive/internal/notification/email"
	quoterequestdomain "github.com/quotehive/quotehive/internal/quoterequest/domain"
)

// Worker wraps the asynq server and its handler mux.
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
	log *zap.Logger
}

type WorkerParams struct {
	fx.In

	Config        config.Config
	Log           *zap.Logger
	Notifications notificationdomain.Service
	Email         *email.Sender
	QuoteRequests quoterequestdomain.Service
}

func NewWorker(p WorkerParams) *Worker {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     p.Config.RedisAddr,
			Password: p.Config.RedisPassword,
			DB:       p.Config.RedisDB,
		},
		asynq.Config{
			Concurrency: p.Config.WorkerConcurrency,
			Queues: map[string]int{
				QueueDefault:       6,
				QueueNotifications: 4,
			},
		},
	)

	log := p.Log.Named("tasks.worker")
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeNotificationDeliver, handleNotificationDeliver(p.Notifications, log))
	mux.HandleFunc(TypeEmailSend, handleEmailSend(p.Email, log))
	mux.HandleFunc(TypeRequestMatch, handleRequestMatch(p.QuoteRequests, log))

	return &Worker{srv: srv, mux: mux, log: log}
}

// Run blocks until the server is shut down.
func (w *Worker) Run() error {
	w.log.Info("worker starting")
	return w.srv.Run(w.mux)
}

func (w *Worker) Start() error {
	return w.srv.Start(w.mux)
}

func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

func handleNotificationDeliver(svc notificationdomain.Service, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p NotificationDeliverPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", task.Type(), err)
		}
		_, err := svc.Deliver(ctx, notificationdomain.DeliverRequest{
			UserID: snowflake.ID(p.UserID),
			Kind:   p.Kind,
			Title:  p.Title,
			Body:   p.Body,
			Data:   p.Data,
		})
		if err != nil {
			log.Error("notification delivery failed",
				zap.Int64("user_id", p.UserID),
				zap.String("kind", p.Kind),
				zap.Error(err),
			)
		}
		return err
	}
}

func handleEmailSend(sender *email.Sender, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p EmailSendPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", task.Type(), err)
		}
		if err := sender.Send(ctx, p.To, p.Subject, p.Body); err != nil {
			log.Error("email send failed", zap.String("to", p.To), zap.Error(err))
			return err
		}
		return nil
	}
}

func handleRequestMatch(svc quoterequestdomain.Service, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p RequestMatchPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", task.Type(), err)
		}
		invited, err := svc.Match(ctx, snowflake.ID(p.RequestID))
		if err != nil {
			log.Error("request matching failed", zap.Int64("request_id", p.RequestID), zap.Error(err))
			return err
		}
		log.Info("request matched",
			zap.Int64("request_id", p.RequestID),
			zap.Int("invited", invited),
		)
		return nil
	}
}
