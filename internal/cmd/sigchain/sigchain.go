// Package sigchain parses sigchain server flags and launches the service.
package sigchain

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/louisbranch/sigchain/internal/platform/cmd"
	server "github.com/louisbranch/sigchain/internal/services/sigchain/app"
)

// Config holds sigchain command configuration.
type Config struct {
	Port          int    `env:"SIGCHAIN_PORT" envDefault:"8090"`
	Addr          string `env:"SIGCHAIN_ADDR"`
	DBPath        string `env:"SIGCHAIN_DB_PATH" envDefault:"data/sigchain.db"`
	ReadPageSize  int    `env:"SIGCHAIN_READ_PAGE_SIZE" envDefault:"100"`
	SkipIntegrity bool   `env:"SIGCHAIN_SKIP_INTEGRITY"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The sigchain gRPC server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The sigchain gRPC listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The sigchain SQLite database path")
	fs.IntVar(&cfg.ReadPageSize, "page-size", cfg.ReadPageSize, "Blocks returned per read page")
	fs.BoolVar(&cfg.SkipIntegrity, "skip-integrity", cfg.SkipIntegrity, "Skip replaying stored chains at startup")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ListenAddr returns Addr, or the port on all interfaces.
func (c Config) ListenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// Run starts the sigchain gRPC API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSigchain, func(ctx context.Context) error {
		return server.Run(ctx, server.Config{
			Addr:          cfg.ListenAddr(),
			DBPath:        cfg.DBPath,
			ReadPageSize:  cfg.ReadPageSize,
			SkipIntegrity: cfg.SkipIntegrity,
		})
	})
}
