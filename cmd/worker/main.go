package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/quotehive/quotehive/internal/config"
	"github.com/quotehive/quotehive/internal/geo"
	"github.com/quotehive/quotehive/internal/notification"
	"github.com/quotehive/quotehive/internal/observability"
	"github.com/quotehive/quotehive/internal/platformconfig"
	"github.com/quotehive/quotehive/internal/provider"
	"github.com/quotehive/quotehive/internal/quoterequest"
	"github.com/quotehive/quotehive/internal/tasks"
	"github.com/quotehive/quotehive/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,

		// Domain services the task handlers call into.
		platformconfig.Module,
		provider.Module,
		geo.Module,
		tasks.Module,
		quoterequest.Module,
		notification.Module,

		fx.Provide(tasks.NewWorker),
		fx.Invoke(StartWorker),
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

func StartWorker(lc fx.Lifecycle, w *tasks.Worker) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return w.Start()
		},
		OnStop: func(context.Context) error {
			w.Shutdown()
			return nil
		},
	})
}
