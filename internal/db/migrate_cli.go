package db

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

var errUsage = errors.New("usage")

// RunMigrateCommand handles the 'migrate' subcommand.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("%w: missing migrate action", errUsage)
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	// Migrations manage the schema, so open without applying them.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()
	migrations := Migrations()

	needVersion := func() (uint64, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("%w: rover migrate %s <version>", errUsage, action)
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return v, nil
	}

	switch action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
	case "status":
		s, err := database.MigrationStatus(migrations)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "current version: %d\nlatest version:  %d\ndirty:           %t\n", s.Current, s.Latest, s.Dirty)
		if s.Pending > 0 {
			fmt.Fprintf(out, "%d migration(s) pending, run 'rover migrate up'\n", s.Pending)
		}
		return nil
	case "version":
		v, err := needVersion()
		if err != nil {
			return err
		}
		if err := database.MigrateTo(migrations, uint(v)); err != nil {
			return err
		}
	case "force":
		v, err := needVersion()
		if err != nil {
			return err
		}
		if err := database.MigrateForce(migrations, int(v)); err != nil {
			return err
		}
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("%w: unknown migrate action %q", errUsage, action)
	}

	v, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema at version %d (dirty=%t)\n", v, dirty)
	return nil
}

func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: rover migrate <action> [args]

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  status             show current and latest schema versions
  version <n>        migrate up or down to version n
  force <n>          record version n without running migrations (dirty recovery)
  help               show this help
`)
}
