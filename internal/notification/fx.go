package notification

import (
	"go.uber.org/fx"

	"github.com/quotehive/quotehive/internal/notification/email"
	"github.com/quotehive/quotehive/internal/notification/hub"
	"github.com/quotehive/quotehive/internal/notification/service"
)

var Module = fx.Module("notification.service",
	fx.Provide(
		hub.NewRedisClient,
		hub.New,
		email.NewSender,
		service.New,
	),
)
