package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ParquetWriterConfig holds the configuration for ParquetWriter.
type ParquetWriterConfig struct {
	// Bucket is the bucket (or top-level directory) passed to the storage connection.
	Bucket string `mapstructure:"bucket"`
	// OutputBaseDir is the base directory within the bucket for exported files (e.g., "numbers/export").
	OutputBaseDir string `mapstructure:"outputBaseDir"`
	// CompressionType is the compression type for Parquet files (e.g., "SNAPPY", "GZIP", "NONE").
	CompressionType string `mapstructure:"compressionType"`
}

// ParquetWriter writes each committed chunk as one Parquet part file.
//
// The chunk is encoded during Write so encoding failures roll the chunk back. The part file
// is uploaded after the chunk transaction commits; upload failures are reported by Close.
type ParquetWriter[T any] struct {
	name   string
	config ParquetWriterConfig
	conn   storage.StorageConnection
	// itemPrototype is a pointer to a zero-value instance of the item type, used for Parquet schema reflection.
	itemPrototype *T
	// partitionKeyFunc extracts a Hive-style partition (e.g., "dt=2024-01-01") from an item. Optional.
	partitionKeyFunc func(T) (string, error)
	codec            parquet.CompressionCodec

	parts      atomic.Int64
	mu         sync.Mutex
	uploadErrs *multierror.Error
}

// NewParquetWriter creates a new instance of ParquetWriter from free-form properties.
func NewParquetWriter[T any](
	name string,
	properties map[string]interface{},
	conn storage.StorageConnection,
	itemPrototype *T,
	partitionKeyFunc func(T) (string, error),
) (*ParquetWriter[T], error) {
	var config ParquetWriterConfig
	if err := mapstructure.Decode(properties, &config); err != nil {
		return nil, exception.NewConfigurationError("writer", fmt.Sprintf("failed to decode ParquetWriter properties for %s", name), err)
	}
	if conn == nil {
		return nil, exception.NewConfigurationError("writer", fmt.Sprintf("ParquetWriter '%s' requires a storage connection", name), nil)
	}
	if config.OutputBaseDir == "" {
		return nil, exception.NewConfigurationError("writer", fmt.Sprintf("ParquetWriter '%s' requires 'outputBaseDir' property", name), nil)
	}
	if config.CompressionType == "" {
		config.CompressionType = "SNAPPY"
	}
	codec, err := getCompressionCodec(config.CompressionType)
	if err != nil {
		return nil, exception.NewConfigurationError("writer", fmt.Sprintf("invalid compression type for ParquetWriter '%s'", name), err)
	}

	return &ParquetWriter[T]{
		name:             name,
		config:           config,
		conn:             conn,
		itemPrototype:    itemPrototype,
		partitionKeyFunc: partitionKeyFunc,
		codec:            codec,
	}, nil
}

// Write encodes items into one part file per partition and uploads them after commit.
func (w *ParquetWriter[T]) Write(ctx context.Context, currentTx tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil
	}

	partitions := map[string][]T{}
	var order []string
	for _, item := range items {
		key := ""
		if w.partitionKeyFunc != nil {
			k, err := w.partitionKeyFunc(item)
			if err != nil {
				return exception.NewBatchError("writer", fmt.Sprintf("failed to get partition key for item in ParquetWriter '%s'", w.name), err, false, false)
			}
			key = k
		}
		if _, ok := partitions[key]; !ok {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], item)
	}

	part := w.parts.Add(1)
	type encoded struct {
		object string
		data   *bytes.Buffer
	}
	files := make([]encoded, 0, len(order))
	for _, key := range order {
		buf, err := w.encode(partitions[key])
		if err != nil {
			return exception.NewBatchError("writer", fmt.Sprintf("failed to encode Parquet partition '%s' in ParquetWriter '%s'", key, w.name), err, false, false)
		}
		fileName := fmt.Sprintf("part-%05d-%s.parquet", part, uuid.NewString()[:8])
		files = append(files, encoded{object: path.Join(w.config.OutputBaseDir, key, fileName), data: buf})
	}

	upload := func() {
		for _, f := range files {
			if err := w.conn.Upload(context.WithoutCancel(ctx), w.config.Bucket, f.object, f.data, "application/octet-stream"); err != nil {
				logger.Errorf("ParquetWriter '%s': failed to upload %s: %v", w.name, f.object, err)
				w.mu.Lock()
				w.uploadErrs = multierror.Append(w.uploadErrs, err)
				w.mu.Unlock()
				continue
			}
			logger.Debugf("ParquetWriter '%s': uploaded %s.", w.name, f.object)
		}
	}
	if currentTx == nil {
		upload()
		return nil
	}
	tx.RegisterAfterCommit(currentTx, upload)
	return nil
}

func (w *ParquetWriter[T]) encode(items []T) (buf *bytes.Buffer, err error) {
	buf = new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, w.itemPrototype, 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = w.codec
	for _, item := range items {
		if err := pw.Write(item); err != nil {
			return nil, err
		}
	}
	// The library panics on some schema mismatches.
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("parquet writer panicked during WriteStop: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return buf, nil
}

// Open implements port.ItemStream.
func (w *ParquetWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	if parts, ok := ec.GetInt(w.name + ".parts"); ok {
		w.parts.Store(int64(parts))
	}
	logger.Infof("ParquetWriter '%s' opened. Target: %s/%s", w.name, w.config.Bucket, w.config.OutputBaseDir)
	return nil
}

// Update stores the number of part files written, so a restart keeps numbering.
func (w *ParquetWriter[T]) Update(ctx context.Context, ec model.ExecutionContext) error {
	ec.Put(w.name+".parts", int(w.parts.Load()))
	return nil
}

// Close reports upload failures and closes the storage connection.
func (w *ParquetWriter[T]) Close(ctx context.Context) error {
	w.mu.Lock()
	result := w.uploadErrs
	w.uploadErrs = nil
	w.mu.Unlock()

	if err := w.conn.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// getCompressionCodec returns the Parquet compression codec from a string.
func getCompressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "": // NONE or empty string means uncompressed
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

var (
	_ port.ItemWriter[any] = (*ParquetWriter[any])(nil)
	_ port.ItemStream      = (*ParquetWriter[any])(nil)
)
