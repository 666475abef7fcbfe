package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"racecontrol-api/api"
	"racecontrol-api/api/middleware"
	"racecontrol-api/db"
	"racecontrol-api/pkg/services/audit"
	embeddednats "racecontrol-api/pkg/services/embedded-nats"
	"racecontrol-api/pkg/shared"
	"racecontrol-api/pkg/tracking"
)

var (
	dbService *db.Service
	nats      *embeddednats.EmbeddedNATS
)

func initDB() error {
	var err error

	config := db.DefaultConfig()
	if path := os.Getenv("DB_PATH"); path != "" {
		config.DBPath = path
	}
	config.AutoInitialize = true

	dbService, err = db.New(config)
	if err != nil {
		return fmt.Errorf("failed to initialize database service: %w", err)
	}

	// Verify schema is properly initialized
	if err := dbService.VerifySchema(); err != nil {
		log.Printf("Schema verification failed: %v", err)
		log.Println("Attempting to initialize schema...")
		if err := dbService.InitializeSchema(); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	log.Println("Database service initialized successfully")
	return nil
}

func initNATS() error {
	var err error

	config := embeddednats.DefaultConfig()
	if dir := os.Getenv("NATS_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}
	if port := os.Getenv("NATS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid NATS_PORT: %w", err)
		}
		config.Port = p
	}

	nats, err = embeddednats.New(config)
	if err != nil {
		return fmt.Errorf("failed to create embedded NATS: %w", err)
	}

	if err := nats.Start(); err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}

	if err := nats.CreateRaceControlStreams(); err != nil {
		return fmt.Errorf("failed to create race control streams: %w", err)
	}

	if err := nats.CreateDurableConsumer(shared.StreamEvents, shared.ConsumerAuditProcessor, shared.SubjectEventsAll); err != nil {
		return fmt.Errorf("failed to create audit consumer: %w", err)
	}

	log.Println("NATS JetStream initialized successfully")
	return nil
}

func geofenceTolerance() float64 {
	raw := os.Getenv("GEOFENCE_TOLERANCE")
	if raw == "" {
		return tracking.DefaultTolerance
	}
	tolerance, err := strconv.ParseFloat(raw, 64)
	if err != nil || tolerance <= 0 {
		log.Printf("Invalid GEOFENCE_TOLERANCE %q, using default", raw)
		return tracking.DefaultTolerance
	}
	return tolerance
}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	} else {
		log.Println("Loaded configuration from .env file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	if err := initDB(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer dbService.Close()

	// Initialize embedded NATS
	if err := initNATS(); err != nil {
		log.Fatal("Failed to initialize NATS:", err)
	}

	// Start the audit worker
	auditWorker, err := audit.NewWorker(dbService.GetDB(), nats)
	if err != nil {
		log.Fatal("Failed to create audit worker:", err)
	}
	if err := auditWorker.Start(); err != nil {
		log.Fatal("Failed to start audit worker:", err)
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Create HTTP server mux
	mux := http.NewServeMux()

	// Initialize handlers (wires services and the tracking manager)
	handlers, err := api.NewHandlers(dbService, nats, geofenceTolerance())
	if err != nil {
		log.Fatal("Failed to initialize handlers:", err)
	}
	handlers.RegisterRoutes(mux, nats)

	// Apply CORS middleware to all routes
	handler := middleware.CORS(mux)

	// Configure server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting race control API server on port %s", port)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start:", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down server...")

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	// Stop the live tracking session, if any
	handlers.TrackingManager().Shutdown()

	// Stop the audit worker
	if err := auditWorker.Stop(); err != nil {
		log.Printf("Failed to stop audit worker: %v", err)
	}

	// Shutdown NATS
	if nats != nil {
		if err := nats.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to shutdown NATS: %v", err)
		}
	}

	log.Println("Server shutdown complete")
}
