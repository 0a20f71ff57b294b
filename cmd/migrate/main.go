package main

import (
	"log"
	"os"

	"focusroom-be/internal/model"
	"focusroom-be/pkg/database"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	db, err := database.NewGormDBFromDSN(dsn, os.Getenv("DB_LOG_LEVEL"))
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Step 1: Setting up extensions...")
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto;`).Error; err != nil {
		log.Printf("Warn: Failed to create pgcrypto: %v. Continuing...", err)
	}

	log.Println("Step 2: Running AutoMigrate...")
	models := []interface{}{
		&model.InterventionJob{},
		&model.DecisionLog{},
		&model.Notification{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		log.Fatalf("Error: AutoMigrate failed: %v", err)
	}

	// Partial index for the job poller; AutoMigrate cannot express WHERE.
	log.Println("Step 3: Creating partial indexes...")
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_intervention_jobs_pending ON intervention_jobs (created_at) WHERE status = 'pending';`).Error; err != nil {
		log.Printf("Warn: Failed to create index: %v", err)
	}

	log.Println("Migration complete")
}
