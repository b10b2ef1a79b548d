// Command migrate applies pending SQL migrations and exits.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"codeloom/internal/database"
)

func main() {
	dir := flag.String("dir", envOr("MIGRATIONS_DIR", "./migrations"), "directory containing *.up.sql files")
	flag.Parse()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := database.Connect(databaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := database.ApplyMigrations(ctx, db, *dir); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Printf("migrations up to date (%s)", *dir)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
