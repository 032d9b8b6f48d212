package seed

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/quotehive/quotehive/internal/config"
)

var Module = fx.Module("seed",
	fx.Invoke(Run),
)

func Run(cfg config.Config, db *gorm.DB, genID *snowflake.Node) error {
	if err := EnsureSettings(db); err != nil {
		return err
	}
	return EnsureAdmin(db, genID, cfg.AdminEmail, cfg.AdminPassword)
}
