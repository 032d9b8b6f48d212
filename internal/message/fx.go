package message

import (
	"go.uber.org/fx"

	"github.com/quotehive/quotehive/internal/message/service"
)

var Module = fx.Module("message",
	fx.Provide(
		service.New,
	),
)
