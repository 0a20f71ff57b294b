package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"focusroom-be/internal/bootstrap"
	"focusroom-be/internal/config"
	"focusroom-be/internal/server"
	"focusroom-be/internal/tracer"
	"focusroom-be/pkg/database"

	"gorm.io/gorm"
)

func main() {
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	cfg := config.Load()

	// The scheduler runs without a database; history and notifications do not.
	var gormDB *gorm.DB
	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, cfg.Database.LogLevel)
	switch {
	case errors.Is(err, database.ErrEmptyDSN):
		log.Println("[WARN] DB_CONNECTION_STRING not set, running with in-memory job store")
	case err != nil:
		log.Panicf("Unable to connect to GORM DB: %v", err)
	default:
		gormDB = db
	}

	container := bootstrap.NewContainer(gormDB, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := container.Run(ctx); err != nil {
			log.Printf("Background services stopped: %v", err)
			stop()
		}
	}()

	srv := server.New(cfg, container)
	go func() {
		if err := srv.Run(); err != nil {
			log.Printf("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	container.Close()
}
