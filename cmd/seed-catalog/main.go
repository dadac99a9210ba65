// seed-catalog inserts the standard material list and the template map
// configurations. Rows that already exist are left untouched.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-catalog --opening-stock 50
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/mapframe_backend/config"
	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
)

func main() {
	openingStock := flag.Int("opening-stock", 50, "On-hand quantity for newly created materials")
	migrate := flag.Bool("migrate", true, "Run AutoMigrate before seeding")
	flag.Parse()

	if *openingStock < 0 {
		fmt.Fprintln(os.Stderr, "--opening-stock must not be negative")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if *migrate {
		if err := models.MigrateTable(db); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := utils.SetUserNameInContext(context.Background(), "Seed")
	catalog := models.NewCatalog(db)
	configs := models.NewConfigurationRepo(db, catalog)
	materials, templates, err := models.SeedCatalog(ctx, db, catalog, configs, *openingStock)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded materials=%d templates=%d\n", materials, templates)
}
