package platformconfig

import (
	"github.com/quotehive/quotehive/internal/platformconfig/service"
	"go.uber.org/fx"
)

var Module = fx.Module("platformconfig.service",
	fx.Provide(service.New),
)
