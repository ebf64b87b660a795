package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

// Applies every .sql file in the migrations directory in name order, one
// transaction per file. Files are written with IF NOT EXISTS guards so the
// tool is safe to re-run against an already migrated database.
func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if listOnly {
		listTables(db)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		log.Fatalf("no .sql files in %s", dir)
	}

	var applied, failed int
	for _, f := range files {
		sqlText, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			log.Fatalf("read %s: %v", f, err)
		}
		if strings.TrimSpace(string(sqlText)) == "" {
			continue
		}
		fmt.Printf("  %s ... ", f)
		if err := runOne(db, string(sqlText)); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			failed++
			continue
		}
		fmt.Println("OK")
		applied++
	}
	log.Printf("Done: %d applied, %d failed", applied, failed)
}

func runOne(db *sql.DB, sqlText string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(sqlText); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func listTables(db *sql.DB) {
	rows, err := db.Query("SELECT tablename FROM pg_tables WHERE schemaname='public' AND tablename LIKE 'campaign%' ORDER BY tablename")
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var t string
		rows.Scan(&t)
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
}
