package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/quotehive/quotehive/internal/booking"
	"github.com/quotehive/quotehive/internal/config"
	"github.com/quotehive/quotehive/internal/geo"
	"github.com/quotehive/quotehive/internal/identity"
	"github.com/quotehive/quotehive/internal/ledger"
	"github.com/quotehive/quotehive/internal/message"
	"github.com/quotehive/quotehive/internal/migration"
	"github.com/quotehive/quotehive/internal/notification"
	"github.com/quotehive/quotehive/internal/observability"
	"github.com/quotehive/quotehive/internal/payment"
	"github.com/quotehive/quotehive/internal/payout"
	"github.com/quotehive/quotehive/internal/platformconfig"
	"github.com/quotehive/quotehive/internal/provider"
	"github.com/quotehive/quotehive/internal/quote"
	"github.com/quotehive/quotehive/internal/quoterequest"
	"github.com/quotehive/quotehive/internal/ratelimit"
	"github.com/quotehive/quotehive/internal/review"
	"github.com/quotehive/quotehive/internal/scheduler"
	"github.com/quotehive/quotehive/internal/seed"
	"github.com/quotehive/quotehive/internal/server"
	"github.com/quotehive/quotehive/internal/tasks"
	"github.com/quotehive/quotehive/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		seed.Module,

		identity.Module,
		platformconfig.Module,
		provider.Module,
		geo.Module,
		ledger.Module,
		tasks.Module,
		quoterequest.Module,
		quote.Module,
		booking.Module,
		payment.Module,
		payout.Module,
		review.Module,
		notification.Module,
		message.Module,
		ratelimit.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
