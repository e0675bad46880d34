// Command migrate applies the embedded schema migrations to one of the
// configured databases.
//
//	migrate [-db name] up|down [N]|steps N|version|force V
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/service-template/internal/config"
	"github.com/tjfontaine/service-template/internal/logging"
	"github.com/tjfontaine/service-template/internal/storage/migrations"
	"github.com/tjfontaine/service-template/internal/storage/sqldb"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: migrate [-db name] up|down [N]|steps N|version|force V\n\n")
	flag.PrintDefaults()
}

func main() {
	_ = godotenv.Load()

	dbName := flag.String("db", "default", "logical database name")
	flag.Usage = usage
	flag.Parse()

	if err := run(*dbName, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(dbName string, args []string) error {
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, closeLog, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := sqldb.Open(context.Background(), sqldb.Config{Name: dbName, URL: cfg.DatabaseURL(dbName)})
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", dbName, err)
	}
	defer db.Close()

	mg, err := migrations.New(db, logger)
	if err != nil {
		return err
	}
	defer mg.Close()

	switch args[0] {
	case "up":
		err = mg.Up()
	case "down":
		n := 1
		if len(args) > 1 {
			if n, err = intArg(args); err != nil {
				return err
			}
		}
		err = mg.Down(n)
	case "steps":
		n, perr := intArg(args)
		if perr != nil {
			return perr
		}
		err = mg.Steps(n)
	case "force":
		v, perr := intArg(args)
		if perr != nil {
			return perr
		}
		err = mg.Force(v)
	case "version":
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		return err
	}

	v, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	fmt.Printf("%s: version %d (dirty: %v)\n", dbName, v, dirty)
	return nil
}

func intArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s requires a number", args[0])
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", args[1], err)
	}
	return n, nil
}
