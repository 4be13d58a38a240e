package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/partscan-backend/pkg/config"
	"github.com/angelmondragon/partscan-backend/pkg/db"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/migrate"
)

const usage = `usage: migrate [flags] <command>

commands:
  up                apply every pending migration
  down              roll back the latest migration
  to <version>      migrate up or down to version (YYYYMMDDHHMMSS)
  status            list migrations and whether they are applied
  create <name>     write a new migration into -dir
  validate          check the migration files in -dir

flags:
`

func main() {
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command, args := flag.Arg(0), flag.Args()[1:]

	_ = godotenv.Load()

	// create and validate only touch files, so they work without a database.
	switch command {
	case "create":
		if len(args) == 0 {
			fail("create needs a migration name")
		}
		target := *dir
		if target == "" {
			target = migrate.SourceDir
		}
		path, err := migrate.Create(target, args[0], time.Now())
		if err != nil {
			fail(err.Error())
		}
		fmt.Println(path)
		return
	case "validate":
		fsys := migrate.Migrations()
		if *dir != "" {
			fsys = os.DirFS(*dir)
		}
		if err := migrate.Validate(fsys); err != nil {
			fail(err.Error())
		}
		fmt.Println("ok")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err.Error())
	}
	logg := logger.ForService("migrate", cfg.App)
	if cfg.DB.IsSQLite() {
		fail("SQL migrations target postgres; sqlite databases are created with PARTSCAN_AUTO_MIGRATE in dev")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "command": command})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to connect to database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "failed to get sql handle", err)
		os.Exit(1)
	}
	fsys := migrate.Migrations()
	if *dir != "" {
		fsys = os.DirFS(*dir)
	}
	migrator, err := migrate.New(sqlDB, fsys, logg)
	if err != nil {
		logg.Error(ctx, "failed to load migrations", err)
		os.Exit(1)
	}

	if err := run(ctx, migrator, command, args); err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, m *migrate.Migrator, command string, args []string) error {
	switch command {
	case "up":
		return m.Up(ctx)
	case "down":
		return m.Down(ctx)
	case "to":
		if len(args) == 0 {
			return fmt.Errorf("to needs a target version")
		}
		version, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("version %q: %w", args[0], err)
		}
		return m.To(ctx, version)
	case "status":
		rows, err := m.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tSTATE\tFILE")
		for _, row := range rows {
			state := "pending"
			if row.Applied {
				state = "applied"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", row.Version, state, row.Path)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "migrate:", msg)
	os.Exit(1)
}
