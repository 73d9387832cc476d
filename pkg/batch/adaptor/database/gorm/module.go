package gorm

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// MetadataConnectionParams defines the dependencies of NewMetadataConnection.
type MetadataConnectionParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

// NewMetadataConnection opens the database referenced by infrastructure.job_repository.db_ref
// and closes it when the application stops.
func NewMetadataConnection(p MetadataConnectionParams) (*GormDBAdapter, error) {
	name := p.Config.Chunkflow.Infrastructure.JobRepository.DBRef
	props, ok := p.Config.Datasource(name)
	if !ok {
		return nil, fmt.Errorf("database configuration '%s' not found", name)
	}
	conn, err := OpenFromProperties(name, props)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return conn.Ping(ctx) },
		OnStop:  func(ctx context.Context) error { return conn.Close() },
	})
	return conn, nil
}

// Module provides the metadata connection and a tx.TransactionManager over it.
// Dialect subpackages must be imported by the application.
var Module = fx.Module("gorm",
	fx.Provide(
		NewMetadataConnection,
		fx.Annotate(NewGormTransactionManager, fx.As(new(tx.TransactionManager))),
	),
)
