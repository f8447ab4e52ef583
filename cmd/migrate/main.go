package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"smartwaste.org/internal/kv"
	"smartwaste.org/internal/migrate"
	"smartwaste.org/internal/obs"
)

// migrate manages the client_kv schema used by the postgres session store.
func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("SMARTWASTE_PG_DSN"), "PostgreSQL DSN")
		table   = flag.String("table", "", "bookkeeping table (default client_schema_migrations)")
		timeout = flag.Duration("timeout", 30*time.Second, "overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or SMARTWASTE_PG_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, kv.Migrations(), migrate.WithTable(*table))

	switch cmd := flag.Arg(0); cmd {
	case "up":
		var pending []string
		if pending, err = mgr.Pending(ctx); err == nil {
			if err = mgr.Up(ctx); err == nil {
				obs.Info("migrations_applied", map[string]any{"count": len(pending), "names": pending})
			}
		}
	case "down":
		if err = mgr.Down(ctx); err == nil {
			obs.Info("migration_rolled_back", nil)
		}
	case "status":
		var applied, pending []string
		if applied, err = mgr.Status(ctx); err == nil {
			pending, err = mgr.Pending(ctx)
		}
		for _, name := range applied {
			fmt.Printf("applied  %s\n", name)
		}
		for _, name := range pending {
			fmt.Printf("pending  %s\n", name)
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
