/*
config.go - Process configuration

PURPOSE:
  Reads the server configuration from the environment with sane local
  defaults, so the binary runs out of the box against SQLite and switches
  to Postgres with two variables.

VARIABLES:
  WALLET_HTTP_PORT   HTTP listen port          (default 8080)
  WALLET_DB_DRIVER   "sqlite" or "postgres"    (default sqlite)
  WALLET_DB_DSN      driver-specific DSN       (default wallet.db;
                     use ":memory:" for an in-memory SQLite database)
*/
package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port     int
	DBDriver string
	DBDSN    string
}

// FromEnv builds the configuration, validating the driver choice.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:     8080,
		DBDriver: DriverSQLite,
		DBDSN:    "wallet.db",
	}

	if raw := os.Getenv("WALLET_HTTP_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 1 || port > 65535 {
			return Config{}, fmt.Errorf("invalid WALLET_HTTP_PORT %q", raw)
		}
		cfg.Port = port
	}
	if driver := os.Getenv("WALLET_DB_DRIVER"); driver != "" {
		if driver != DriverSQLite && driver != DriverPostgres {
			return Config{}, fmt.Errorf("invalid WALLET_DB_DRIVER %q: want %q or %q", driver, DriverSQLite, DriverPostgres)
		}
		cfg.DBDriver = driver
	}
	if dsn := os.Getenv("WALLET_DB_DSN"); dsn != "" {
		cfg.DBDSN = dsn
	}

	if cfg.DBDriver == DriverPostgres && cfg.DBDSN == "wallet.db" {
		return Config{}, fmt.Errorf("WALLET_DB_DSN is required when WALLET_DB_DRIVER=postgres")
	}
	return cfg, nil
}

func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
