package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hikma01/rankmath-capture-unified-sub000/config"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrationsCommand,
		},
		"queue-stats": {
			name:        "queue-stats",
			description: "Print job queue statistics and pending webhook deliveries",
			run:         runQueueStats,
		},
		"promote-retries": {
			name:        "promote-retries",
			description: "Promote retry jobs with an elapsed backoff back to pending",
			run:         runPromoteRetries,
		},
		"reap": {
			name:        "reap",
			description: "Requeue stuck jobs and prune old terminal jobs and deliveries",
			run:         runReap,
		},
		"list-result-cache": {
			name:        "list-result-cache",
			description: "Inspect cached optimization results in Redis",
			run:         runListResultCache,
		},
		"clear-result-cache": {
			name:        "clear-result-cache",
			description: "Clear cached optimization results from Redis",
			run:         runClearResultCache,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: optimizer-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := cmds[name]
		if err := writef(os.Stdout, "  %-20s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

// connectDB wires up the database for commands that only need Postgres.
func connectDB(logger *slog.Logger, cfg *config.AppConfig) (*sql.DB, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

// connectRedis wires up Redis for commands that inspect the result cache.
//
//nolint:ireturn // returning redis.UniversalClient keeps client selection flexible.
func connectRedis(logger *slog.Logger, cfg *config.AppConfig) (redis.UniversalClient, error) {
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func closeQuietly(c io.Closer, logger *slog.Logger, what string) {
	if err := c.Close(); err != nil {
		logger.Error("close "+what+" failed", "error", err)
	}
}

func runMigrationsCommand(cmdCtx *commandContext, _ []string) error {
	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer closeQuietly(db, cmdCtx.Logger, "database")

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultMigrationTimeout)
	defer cancel()

	if err := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("migrations timed out after %s: %w", defaultMigrationTimeout, err)
		}
		return err
	}
	return nil
}
