package review

import (
	"go.uber.org/fx"

	"github.com/quotehive/quotehive/internal/review/service"
)

var Module = fx.Module("review.service",
	fx.Provide(service.New),
)
