package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wehubfusion/datamanager/pkg/builtin"
	"github.com/wehubfusion/datamanager/pkg/config"
	"github.com/wehubfusion/datamanager/pkg/mapper"
	"github.com/wehubfusion/datamanager/pkg/query"
	"github.com/wehubfusion/datamanager/pkg/registry"
	"github.com/wehubfusion/datamanager/pkg/schema"
	"github.com/wehubfusion/datamanager/pkg/script"
)

// metadataFactory holds the database metadata processes.
const metadataFactory = "db"

// buildManager fills a registry: the text processes, the pipelines built
// from them and the schema processes go to their own factories, script
// manifests to the default factory and, with a database configured,
// metadata processes to the "db" factory. Factories are locked afterwards. The returned function releases the database pool.
func buildManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*registry.Manager, func(), error) {
	manager := registry.NewManager(logger)
	cleanup := func() {}

	if err := builtin.RegisterText(manager.Factory(builtin.TextFactoryID)); err != nil {
		return nil, cleanup, err
	}
	if err := builtin.RegisterPipelines(manager, mapper.WithLogger(logger)); err != nil {
		return nil, cleanup, err
	}
	if err := schema.Register(manager.Factory(schema.FactoryID), nil); err != nil {
		return nil, cleanup, err
	}

	if cfg.ScriptDir != "" {
		loaded, err := script.LoadDir(cfg.ScriptDir, manager.Default(), script.Config{
			Timeout: cfg.ScriptTimeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("loading scripts: %w", err)
		}
		logger.Info("Loaded script processes",
			zap.String("dir", cfg.ScriptDir),
			zap.Int("count", len(loaded)))
	}

	if cfg.DatabaseURL != "" {
		pool, err := query.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connecting to database: %w", err)
		}
		cleanup = pool.Close
		if err := query.RegisterMetadata(manager.Factory(metadataFactory), pool); err != nil {
			pool.Close()
			return nil, func() {}, err
		}
	}

	for _, id := range manager.Factories() {
		manager.Factory(id).Lock()
	}
	return manager, cleanup, nil
}
