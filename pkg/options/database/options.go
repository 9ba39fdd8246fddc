// Package dbopts provides options for relational database configuration.
package dbopts

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/shopfloor-copilot/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Options defines configuration options for the relational database.
type Options struct {
	// Driver selects the backend: sqlite, mysql or postgres.
	Driver string `json:"driver" mapstructure:"driver"`

	// DSN is the driver-specific data source name. For sqlite this is a
	// file path (":memory:" for in-memory).
	DSN string `json:"dsn" mapstructure:"dsn"`

	MaxIdleConnections    int           `json:"max-idle-connections" mapstructure:"max-idle-connections"`
	MaxOpenConnections    int           `json:"max-open-connections" mapstructure:"max-open-connections"`
	MaxConnectionLifeTime time.Duration `json:"max-connection-life-time" mapstructure:"max-connection-life-time"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Driver:                DriverSQLite,
		DSN:                   "copilot.db",
		MaxIdleConnections:    10,
		MaxOpenConnections:    100,
		MaxConnectionLifeTime: 10 * time.Second,
	}
}

// AddFlags adds flags for database options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Driver, options.Join(prefixes...)+"db.driver", o.Driver, "Database driver (sqlite, mysql, postgres).")
	fs.StringVar(&o.DSN, options.Join(prefixes...)+"db.dsn", o.DSN, "Database DSN (DEPRECATED for credentials: use DATABASE_URL env var instead).")
	fs.IntVar(&o.MaxIdleConnections, options.Join(prefixes...)+"db.max-idle-connections", o.MaxIdleConnections, "Database max idle connections.")
	fs.IntVar(&o.MaxOpenConnections, options.Join(prefixes...)+"db.max-open-connections", o.MaxOpenConnections, "Database max open connections.")
	fs.DurationVar(&o.MaxConnectionLifeTime, options.Join(prefixes...)+"db.max-connection-life-time", o.MaxConnectionLifeTime, "Database max connection life time.")
}

// Validate checks if the options are valid.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	// 环境变量优先于 CLI 传入的 DSN（避免在命令行暴露口令）
	if url := os.Getenv("DATABASE_URL"); url != "" {
		o.DSN = url
	}

	var errs []error
	switch o.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver: %s", o.Driver))
	}
	if o.DSN == "" {
		errs = append(errs, fmt.Errorf("database dsn is required"))
	}
	return errs
}
