package notification

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

// Module provides the log notifier and adds the notification listener to the job listener group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewLogNotifier, fx.As(new(Notifier)))),
	fx.Provide(fx.Annotate(NewNotificationListener, fx.As(new(port.JobExecutionListener)), fx.ResultTags(`group:"jobListeners"`))),
)
