package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/geraldochiquemba2/biva-imobiliria-sub001/db"
)

func main() {
	_ = godotenv.Load()

	var dir string

	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the marketplace database schema",
	}
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "migrations", "directory holding the .sql migration files")

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations in filename order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd.Context(), dir)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether each has been applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), dir)
		},
	}

	rootCmd.AddCommand(upCmd, statusCmd)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runUp(ctx context.Context, dir string) error {
	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		return err
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename text PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	files, err := listMigrations(dir)
	if err != nil {
		return err
	}

	applied, err := appliedSet(ctx, pool)
	if err != nil {
		return err
	}

	for _, name := range files {
		if applied[name] {
			continue
		}
		sql, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("record %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit %s: %w", name, err)
		}
		fmt.Printf("applied %s\n", name)
	}
	return nil
}

func runStatus(ctx context.Context, dir string) error {
	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		return err
	}
	defer pool.Close()

	files, err := listMigrations(dir)
	if err != nil {
		return err
	}
	applied, err := appliedSet(ctx, pool)
	if err != nil {
		return err
	}

	for _, name := range files {
		state := "pending"
		if applied[name] {
			state = "applied"
		}
		fmt.Printf("%-40s %s\n", name, state)
	}
	return nil
}

func listMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func appliedSet(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	applied := map[string]bool{}
	rows, err := pool.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		// First run: the table may not exist yet for status.
		return applied, nil
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
