package listener

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/notification"
)

// Module aggregates all listener modules of the batch framework. The completion signaler is
// provided both as itself and as a member of the job listener group.
var Module = fx.Options(
	logging.Module,
	metrics.Module,
	notification.Module,
	fx.Provide(NewJobCompletionSignaler),
	fx.Provide(fx.Annotate(
		func(s *JobCompletionSignaler) port.JobExecutionListener { return s },
		fx.ResultTags(`group:"jobListeners"`),
	)),
)
