// Package local stores objects as files below a base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	storageAdapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ProviderType is the storage type served by this package.
const ProviderType = "local"

// localAdapter maps bucket/object to <root>/<bucket>/<object>.
type localAdapter struct {
	cfg  storageConfig.StorageConfig
	name string
	root string
	log  zerolog.Logger
}

var _ storageAdapter.StorageConnection = (*localAdapter)(nil)

// NewLocalAdapter creates a connection rooted at cfg.BaseDir, creating the directory when missing.
func NewLocalAdapter(cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage '%s': base_dir is required", name)
	}
	root, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("local storage '%s': %w", name, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("local storage '%s': failed to create base_dir '%s': %w", name, root, err)
	}
	if info, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("local storage '%s': %w", name, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local storage '%s': base_dir '%s' is not a directory", name, root)
	}

	return &localAdapter{
		cfg:  cfg,
		name: name,
		root: root,
		log:  logger.With("storage").With().Str("connection", name).Logger(),
	}, nil
}

// NewLocalAdapterFromProperties binds a free-form configuration section and creates the connection.
// An empty type means local.
func NewLocalAdapterFromProperties(name string, properties map[string]interface{}) (storageAdapter.StorageConnection, error) {
	var cfg storageConfig.StorageConfig
	if err := configbinder.BindProperties(properties, &cfg); err != nil {
		return nil, fmt.Errorf("local storage '%s': %w", name, err)
	}
	if cfg.Type == "" {
		cfg.Type = ProviderType
	}
	if cfg.Type != ProviderType {
		return nil, fmt.Errorf("local storage '%s': unsupported type '%s'", name, cfg.Type)
	}
	return NewLocalAdapter(cfg, name)
}

func (a *localAdapter) Name() string { return a.name }

func (a *localAdapter) Type() string { return ProviderType }

func (a *localAdapter) Close() error { return nil }

// Upload writes data to a temporary file next to the target and renames it into place, so
// readers never observe a partial object.
func (a *localAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	target, err := a.resolve(bucket, objectName)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("local storage '%s': failed to create '%s': %w", a.name, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("local storage '%s': %w", a.name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("local storage '%s': failed to write '%s': %w", a.name, target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("local storage '%s': %w", a.name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("local storage '%s': failed to publish '%s': %w", a.name, target, err)
	}
	a.log.Debug().Str("path", target).Str("content_type", contentType).Msg("object uploaded")
	return nil
}

// Download opens the object. The caller closes the returned reader.
func (a *localAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	target, err := a.resolve(bucket, objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("local storage '%s': %w", a.name, err)
	}
	return f, nil
}

// ListObjects calls fn with the slash separated name of each object in bucket whose name
// starts with prefix, in lexical order. Directories are not objects.
func (a *localAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	base, err := a.resolve(bucket, "")
	if err != nil {
		return err
	}
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == base {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		return fn(name)
	})
	if err != nil {
		return fmt.Errorf("local storage '%s': failed to list '%s': %w", a.name, base, err)
	}
	return nil
}

// DeleteObject removes the object. A missing object is not an error.
func (a *localAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	target, err := a.resolve(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			a.log.Debug().Str("path", target).Msg("object already absent")
			return nil
		}
		return fmt.Errorf("local storage '%s': %w", a.name, err)
	}
	a.log.Debug().Str("path", target).Msg("object deleted")
	return nil
}

// resolve returns the file path of bucket/objectName. The default bucket is bucket_name.
// Paths leaving the root are rejected.
func (a *localAdapter) resolve(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = a.cfg.BucketName
	}
	target := filepath.Join(a.root, bucket, filepath.FromSlash(objectName))
	rel, err := filepath.Rel(a.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("local storage '%s': path '%s' escapes base_dir", a.name, filepath.Join(bucket, objectName))
	}
	return target, nil
}
