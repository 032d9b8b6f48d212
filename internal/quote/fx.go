package quote

import (
	"go.uber.org/fx"

	"github.com/quotehive/quotehive/internal/quote/service"
)

var Module = fx.Module("quote.service",
	fx.Provide(service.New),
)
