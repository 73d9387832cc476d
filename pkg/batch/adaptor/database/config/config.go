// Package config holds the database connection settings decoded from the database.<name> sections.
package config

import "fmt"

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string     `yaml:"type"`             // Database type ("postgres", "mysql" or "sqlite").
	Host     string     `yaml:"host"`             // Database host address.
	Port     int        `yaml:"port"`             // Database port number.
	Database string     `yaml:"database"`         // Database name, or the file path for SQLite.
	User     string     `yaml:"user"`             // Database user.
	Password string     `yaml:"password"`         // Database password.
	Schema   string     `yaml:"schema,omitempty"` // Schema name for PostgreSQL.
	Sslmode  string     `yaml:"sslmode"`          // SSL mode for the connection.
	LogLevel string     `yaml:"log_level"`        // GORM log level; SILENT when empty.
	Pool     PoolConfig `yaml:"pool"`             // Connection pool settings.
}

// Validate checks the fields every dialect needs.
func (c DatabaseConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("database type is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required for type %s", c.Type)
	}
	if c.Type != "sqlite" && c.Host == "" {
		return fmt.Errorf("database host is required for type %s", c.Type)
	}
	return nil
}
