package numbers

import (
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/writer"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/config/bootstrap"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
)

// StepName is the name of the only step of the demo job.
const StepName = "numbersStep"

// Options selects the input size and the sink of the step.
type Options struct {
	Count int
	// ParquetDir, when set, writes one Parquet part file per chunk below this directory.
	ParquetDir string
}

// NewStep builds the step reading Count numbers. Without a ParquetDir the items end up in
// the returned list writer.
func NewStep(deps bootstrap.StepDependencies, opts Options) (*tasklet.TaskletStep, *item.ListItemWriter[Number], error) {
	reader := item.NewListItemReader("numbers", Generate(opts.Count))
	if opts.ParquetDir == "" {
		sink := item.NewListItemWriter[Number]()
		step, err := bootstrap.NewChunkStep[Number](deps, StepName, reader, sink)
		return step, sink, err
	}

	sink, err := newParquetSink(opts.ParquetDir)
	if err != nil {
		return nil, nil, err
	}
	step, err := bootstrap.NewChunkStep[Number](deps, StepName, reader, sink)
	return step, nil, err
}

func newParquetSink(dir string) (port.ItemWriter[Number], error) {
	conn, err := local.NewLocalAdapterFromProperties("numbersExport", map[string]interface{}{"base_dir": dir})
	if err != nil {
		return nil, err
	}
	return writer.NewParquetWriter("numbersParquet", map[string]interface{}{
		"bucket":          "exports",
		"outputBaseDir":   "numbers",
		"compressionType": "SNAPPY",
	}, conn, &Number{}, Decade)
}
