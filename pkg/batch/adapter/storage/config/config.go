// Package config holds the configuration of storage adapters.
package config

// StorageConfig is the configuration of one named storage connection.
type StorageConfig struct {
	Type       string `yaml:"type" mapstructure:"type"`               // Type of storage (e.g., "local").
	BucketName string `yaml:"bucket_name" mapstructure:"bucket_name"` // Default bucket name for operations.
	BaseDir    string `yaml:"base_dir" mapstructure:"base_dir"`       // Base directory for local file system operations.
}

// DatasourcesConfig maps connection names to their configuration.
type DatasourcesConfig map[string]StorageConfig
