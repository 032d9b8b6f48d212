package quoterequest

import (
	"go.uber.org/fx"

	"github.com/quotehive/quotehive/internal/quoterequest/service"
)

var Module = fx.Module("quoterequest.service",
	fx.Provide(service.New),
)
