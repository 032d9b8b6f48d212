package booking

import (
	"go.uber.org/fx"

	"github.com/quotehive/quotehive/internal/booking/service"
)

var Module = fx.Module("booking.service",
	fx.Provide(service.New),
)
