package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ignite/provider-outreach/internal/pkg/logger"
	"github.com/ignite/provider-outreach/internal/repository/postgres"
)

const ledgerDDL = `CREATE TABLE IF NOT EXISTS outreach_schema_migrations (
	filename   TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func main() {
	dir := flag.String("dir", "migrations", "directory of .sql files, applied in name order")
	listOnly := flag.Bool("list", false, "list outreach tables and exit")
	flag.Parse()

	_ = godotenv.Load()
	log := logger.Named("migrate")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, dsn, postgres.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to database")

	if *listOnly {
		if err := listTables(ctx, db); err != nil {
			log.Error("list tables failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if _, err := db.ExecContext(ctx, ledgerDDL); err != nil {
		log.Error("create migration ledger failed", "error", err)
		os.Exit(1)
	}

	files, err := sqlFiles(*dir)
	if err != nil {
		log.Error("read migrations dir failed", "dir", *dir, "error", err)
		os.Exit(1)
	}

	var applied, skipped int
	for _, f := range files {
		done, err := alreadyApplied(ctx, db, f)
		if err != nil {
			log.Error("check ledger failed", "file", f, "error", err)
			os.Exit(1)
		}
		if done {
			skipped++
			continue
		}
		start := time.Now()
		if err := apply(ctx, db, *dir, f); err != nil {
			// Later files may depend on this one.
			log.Error("migration failed", "file", f, "error", err)
			os.Exit(1)
		}
		applied++
		log.Info("migration applied", "file", f, "took", time.Since(start).String())
	}
	log.Info("migrations complete", "applied", applied, "skipped", skipped)
}

func sqlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func alreadyApplied(ctx context.Context, db *sql.DB, file string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outreach_schema_migrations WHERE filename = $1`, file).Scan(&n)
	return n > 0, err
}

// apply runs one file and records it in the same transaction.
func apply(ctx context.Context, db *sql.DB, dir, file string) error {
	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if strings.TrimSpace(string(data)) != "" {
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO outreach_schema_migrations (filename) VALUES ($1)`, file); err != nil {
		return err
	}
	return tx.Commit()
}

func listTables(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename LIKE 'outreach_%' ORDER BY tablename`)
	if err != nil {
		return err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
	return rows.Err()
}
