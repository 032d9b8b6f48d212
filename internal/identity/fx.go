package identity

import (
	"github.com/quotehive/quotehive/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(service.New),
)
