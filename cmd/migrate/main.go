package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/erp/orderboard/internal/infrastructure/config"
	"github.com/erp/orderboard/internal/infrastructure/logger"
	"github.com/erp/orderboard/internal/infrastructure/persistence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	var (
		logLevel string
		timeout  time.Duration
	)

	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Overall command timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	log.Info("Team directory CLI started", zap.String("command", command))

	// Parse the import file before touching the database
	var members []memberRecord
	switch command {
	case "up", "members":
	case "import":
		if len(args) < 2 {
			log.Fatal("Import file required. Usage: migrate import <file.json>")
		}
		f, err := os.Open(args[1])
		if err != nil {
			log.Fatal("Failed to open import file", zap.Error(err))
		}
		members, err = parseMembers(f)
		_ = f.Close()
		if err != nil {
			log.Fatal("Invalid import file", zap.String("file", args[1]), zap.Error(err))
		}
	default:
		log.Error("Unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}

	cfg.Database.Enabled = true
	db, err := persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	directory := persistence.NewGormTeamDirectory(db.DB)

	switch command {
	case "up":
		if err := directory.Migrate(ctx); err != nil {
			log.Fatal("Migration failed", zap.Error(err))
		}
		log.Info("Team directory schema is up to date")

	case "import":
		if err := directory.Migrate(ctx); err != nil {
			log.Fatal("Migration failed", zap.Error(err))
		}
		err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return importMembers(ctx, directory.WithTx(tx), members, time.Now())
		})
		if err != nil {
			log.Fatal("Import failed", zap.Error(err))
		}
		log.Info("Team directory imported", zap.Int("members", len(members)))

	case "members":
		if len(args) < 2 {
			log.Fatal("Leader id required. Usage: migrate members <leader-id>")
		}
		ids, err := directory.MembersOf(ctx, args[1])
		if err != nil {
			log.Fatal("Failed to load team", zap.Error(err))
		}
		log.Info("Team members", zap.String("leader_id", args[1]), zap.Int("count", len(ids)))
		for _, id := range ids {
			fmt.Println("  -", id)
		}
	}
}

func printUsage() {
	fmt.Println(`Orderboard Team Directory Tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Create or update the team_members table
  import <file.json>    Migrate, then upsert every member in the file
  members <leader-id>   List the active members reporting to a leader

Flags:
  -log-level string     Log level: debug, info, warn, error (default: info)
  -timeout duration     Overall command timeout (default: 2m)

Environment Variables:
  DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, DB_SSL_MODE

Import file format:
  [{"id": "U1", "name": "Asha", "role": "Sales", "leader_id": "L1"}]`)
}
