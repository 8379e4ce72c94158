package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/mecws/shelter-ops/internal/config"
	"github.com/mecws/shelter-ops/internal/repository/postgres"
)

const usage = "usage: migrate [up | down N | version]"

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	db, err := postgres.Open(context.Background(), config.DatabaseConfig{URL: dsn})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	switch cmd {
	case "up":
		if err := postgres.Migrate(db); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
	case "down":
		steps := 1
		if len(os.Args) > 2 {
			steps, err = strconv.Atoi(os.Args[2])
			if err != nil || steps < 1 {
				log.Fatal(usage)
			}
		}
		if err := postgres.MigrateDown(db, steps); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
	case "version":
	default:
		log.Fatal(usage)
	}

	version, dirty, err := postgres.MigrationVersion(db)
	if err != nil {
		log.Fatalf("version: %v", err)
	}
	fmt.Printf("schema version %d (dirty=%t)\n", version, dirty)
}
