// Package main applies, reverts and lists the database migrations.
//
//	migrate up      apply pending migrations
//	migrate down    revert the last applied migration
//	migrate status  list migrations and when they were applied
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/coursehub/certification-hub/config"
	"github.com/coursehub/certification-hub/internal/bootstrap"
	"github.com/coursehub/certification-hub/internal/infrastructure/persistence/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if err := run(ctx, command); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", command, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	log := bootstrap.SetupLogger(cfg)

	conn, err := postgres.NewConnection(ctx, postgres.DefaultConfig(cfg.Database.URL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	migrator := postgres.NewMigrator(conn)
	switch command {
	case "up":
		if err := migrator.Migrate(ctx); err != nil {
			return err
		}
		log.Info("database schema is up to date")
	case "down":
		if err := migrator.Rollback(ctx); err != nil {
			return err
		}
		log.Info("reverted last migration")
	case "status":
		migrations, err := migrator.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
		for _, m := range migrations {
			applied := "pending"
			if m.IsApplied {
				applied = m.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", m.Version, m.Name, applied)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown command (want up, down or status)")
	}
	return nil
}
