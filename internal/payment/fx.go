package payment

import (
	"go.uber.org/fx"

	"github.com/quotehive/quotehive/internal/payment/adapters/stripe"
	"github.com/quotehive/quotehive/internal/payment/service"
)

var Module = fx.Module("payment.service",
	fx.Provide(stripe.New),
	fx.Provide(service.New),
)
