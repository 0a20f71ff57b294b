package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"focusroom-be/internal/model"
	"focusroom-be/internal/repository/implementation"
	"focusroom-be/internal/repository/specification"
	"focusroom-be/pkg/database"
	"focusroom-be/pkg/intervention"

	"github.com/joho/godotenv"
)

// Prunes old decision logs and settled jobs. Run from cron.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("DB_CONNECTION_STRING is not set")
	}

	days := 30
	if v, err := strconv.Atoi(os.Getenv("RETENTION_DAYS")); err == nil && v > 0 {
		days = v
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	db, err := database.NewGormDBFromDSN(dsn, os.Getenv("DB_LOG_LEVEL"))
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	log.Printf("Removing decision logs before %s...", cutoff.Format(time.RFC3339))
	n, err := implementation.NewDecisionLogRepository(db).DeleteWhere(ctx,
		specification.OlderThan{Column: "timestamp", Before: cutoff},
	)
	if err != nil {
		log.Fatalf("Failed to delete decision logs: %v", err)
	}
	log.Printf("Deleted %d decision logs.", n)

	// Pending jobs are left for the poller.
	query := db.WithContext(ctx)
	for _, spec := range []specification.Specification{
		specification.OlderThan{Column: "updated_at", Before: cutoff},
		specification.StatusIn{Statuses: []string{string(intervention.JobReady), string(intervention.JobFailed)}},
	} {
		query = spec.Apply(query)
	}
	result := query.Delete(&model.InterventionJob{})
	if result.Error != nil {
		log.Fatalf("Failed to delete jobs: %v", result.Error)
	}
	log.Printf("Deleted %d settled jobs.", result.RowsAffected)
}
