// Package db owns the outcome archive: connections and schema migration for
// the gorm persistence layer behind the dashboard history and herald digests.
package db

import (
	"fmt"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Opts selects the backing database. Path feeds the sqlite driver, the
// remaining fields build a MySQL DSN.
type Opts struct {
	Driver   string // "sqlite" (default) or "mysql"
	Path     string // sqlite file path, or ":memory:"
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// MySQLDSN builds the driver DSN, letting the driver handle escaping of
// credentials and parameters.
func MySQLDSN(opts Opts) string {
	cfg := mysqldrv.NewConfig()
	cfg.User = opts.User
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// Connect opens a GORM connection to the configured database.
func Connect(opts Opts) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch opts.Driver {
	case "", "sqlite":
		if opts.Path == "" {
			return nil, fmt.Errorf("db: sqlite path is required")
		}
		gdb, err := gorm.Open(sqlite.Open(opts.Path), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", opts.Path, err)
		}
		return gdb, nil

	case "mysql":
		if opts.Host == "" || opts.Database == "" {
			return nil, fmt.Errorf("db: mysql host and database are required")
		}
		gdb, err := gorm.Open(mysql.Open(MySQLDSN(opts)), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", opts.Host, opts.Port, opts.Database, err)
		}
		return gdb, nil

	default:
		return nil, fmt.Errorf("db: unknown driver %q", opts.Driver)
	}
}
