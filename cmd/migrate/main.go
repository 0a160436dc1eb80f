package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/personal/interstitial-ad-coordinator/migrations"
	"github.com/personal/interstitial-ad-coordinator/pkg/config"
	"github.com/personal/interstitial-ad-coordinator/pkg/logger"
)

// sourceDir is where create writes new migration files
const sourceDir = "migrations"

var errUsage = errors.New("usage")

// invocation is a parsed command line
type invocation struct {
	command string
	name    string
	dsn     string
	verbose bool
}

func parseArgs(args []string) (invocation, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inv invocation
	fs.StringVar(&inv.dsn, "dsn", os.Getenv("DATABASE_URL"), "PostgreSQL connection string, defaults to the database config")
	fs.BoolVar(&inv.verbose, "v", false, "Log every statement goose runs")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Applies the operation history schema.")
		fmt.Fprintln(fs.Output(), "")
		fmt.Fprintln(fs.Output(), "  migrate [flags] up | down | status")
		fmt.Fprintln(fs.Output(), "  migrate create <name>")
		fmt.Fprintln(fs.Output(), "")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return inv, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return inv, errUsage
	}
	inv.command = rest[0]

	switch inv.command {
	case "up", "down", "status":
		if len(rest) != 1 {
			return inv, fmt.Errorf("%s takes no arguments", inv.command)
		}
	case "create":
		if len(rest) != 2 || rest[1] == "" {
			return inv, errors.New("create needs a migration name")
		}
		inv.name = rest[1]
	default:
		fs.Usage()
		return inv, fmt.Errorf("unknown command %q", inv.command)
	}
	return inv, nil
}

func main() {
	log := logger.New("info", os.Getenv("APP_ENV"))

	inv, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) || errors.Is(err, errUsage) {
			os.Exit(2)
		}
		log.Fatalf("Invalid arguments: %v", err)
	}
	goose.SetVerbose(inv.verbose)

	// New files go to the source tree, not the embedded copy
	if inv.command == "create" {
		if err := goose.Create(nil, sourceDir, inv.name, "sql"); err != nil {
			log.Fatalf("Failed to create migration: %v", err)
		}
		return
	}

	if inv.dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		inv.dsn = cfg.Database.DSN()
	}

	db, err := openDatabase(inv.dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("Failed to set dialect: %v", err)
	}

	switch inv.command {
	case "up":
		err = goose.Up(db, migrations.Dir)
	case "down":
		err = goose.Down(db, migrations.Dir)
	case "status":
		err = goose.Status(db, migrations.Dir)
	}
	if err != nil {
		log.Fatalf("Migration %s failed: %v", inv.command, err)
	}
	log.WithField("command", inv.command).Info("Migration finished")
}

func openDatabase(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
