package sql

import (
	"go.uber.org/fx"

	gormadaptor "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// RepositoryParams defines the dependencies of NewRepositoryProvider.
type RepositoryParams struct {
	fx.In
	Conn   *gormadaptor.GormDBAdapter
	Config *config.Config
}

// NewRepositoryProvider builds the repository, migrating the schema first when configured.
func NewRepositoryProvider(p RepositoryParams) (repository.JobRepository, error) {
	if p.Config.Chunkflow.Infrastructure.JobRepository.Migrate {
		if err := Migrate(p.Conn); err != nil {
			return nil, err
		}
	}
	return NewGormJobRepository(p.Conn), nil
}

// Module provides the GORM JobRepository together with its connection and transaction manager.
var Module = fx.Options(
	gormadaptor.Module,
	fx.Provide(NewRepositoryProvider),
)
