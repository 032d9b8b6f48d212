package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Task type names routed by the worker mux.
const (
	TypeNotificationDeliver = "notification:deliver"
	TypeEmailSend           = "email:send"
	TypeRequestMatch        = "request:match"
)

const (
	QueueDefault       = "default"
	QueueNotifications = "notifications"
)

// NotificationDeliverPayload fans a single in-app notification out to a user.
type NotificationDeliverPayload struct {
	UserID int64             `json:"user_id"`
	Kind   string            `json:"kind"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// EmailSendPayload delivers one transactional email.
type EmailSendPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// RequestMatchPayload runs provider matching for a quote request after intake.
type RequestMatchPayload struct {
	RequestID int64 `json:"request_id"`
}

func NewNotificationDeliverTask(p NotificationDeliverPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNotificationDeliver, payload,
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	), nil
}

func NewEmailSendTask(p EmailSendPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailSend, payload,
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	), nil
}

func NewRequestMatchTask(p RequestMatchPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRequestMatch, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
	), nil
}
