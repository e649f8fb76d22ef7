package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/clock"
	"github.com/smallbiznis/fortuna/internal/config"
	"github.com/smallbiznis/fortuna/internal/migration"
	"github.com/smallbiznis/fortuna/internal/observability"
	"github.com/smallbiznis/fortuna/internal/scheduler"
	"github.com/smallbiznis/fortuna/internal/server"
	"github.com/smallbiznis/fortuna/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP API, payment settlement and the usage pipeline
		server.Module,

		// Background reconciliation
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
