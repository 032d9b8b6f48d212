package provider

import (
	"go.uber.org/fx"

	"github.com/quotehive/quotehive/internal/provider/repository"
	"github.com/quotehive/quotehive/internal/provider/service"
)

var Module = fx.Module("provider.service",
	fx.Provide(
		repository.New,
		service.New,
	),
)
