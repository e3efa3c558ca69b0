package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zkvault/internal/config"
	"zkvault/internal/handler"
	"zkvault/internal/metrics"
	"zkvault/internal/middleware"
	"zkvault/internal/repository"
	"zkvault/internal/service"
	"zkvault/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	exists, err := client.DBExists(context.Background(), cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to check database existence: %v", err)
	}

	if !exists {
		if err := client.CreateDB(context.Background(), cfg.Database.Name); err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		log.Printf("Created database: %s", cfg.Database.Name)
	}

	registry := metrics.DefaultRegistry()

	masterSecretRepo := repository.NewMasterSecretRepository(client, cfg.Database.Name)
	vaultRecordRepo := repository.NewVaultRecordRepository(client, cfg.Database.Name)
	rotationRepo := repository.NewRotationRepository(client, cfg.Database.Name)

	if err := vaultRecordRepo.EnsureIndexes(context.Background()); err != nil {
		log.Fatalf("Failed to prepare database: %v", err)
	}

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		registry,
	)
	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler())
	go wsManager.Run()

	limiter := service.NewAttemptLimiter(cfg.Verify.MaxAttempts, cfg.Verify.Window)
	userLocks := service.NewUserLocks()
	masterSecretService := service.NewMasterSecretService(masterSecretRepo, vaultRecordRepo, rotationRepo, limiter, wsManager, registry, userLocks)
	vaultRecordService := service.NewVaultRecordService(vaultRecordRepo, wsManager, userLocks)

	masterSecretHandler := handler.NewMasterSecretHandler(masterSecretService)
	vaultRecordHandler := handler.NewVaultRecordHandler(vaultRecordService)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.JWT.Secret, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.SecurityHeadersMiddleware())
	if cfg.Server.MetricsEnabled {
		r.Use(middleware.MetricsMiddleware(registry))
	}
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.SecureCacheMiddleware())
	api.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	api.HandleFunc("/master-secret/status", masterSecretHandler.Status).Methods("GET", "OPTIONS")
	api.HandleFunc("/master-secret/create", masterSecretHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/master-secret/verify", masterSecretHandler.Verify).Methods("POST", "OPTIONS")
	api.HandleFunc("/master-secret/artifact", masterSecretHandler.GetArtifact).Methods("GET", "OPTIONS")
	api.HandleFunc("/master-secret/artifact", masterSecretHandler.UpgradeArtifact).Methods("PUT", "OPTIONS")
	api.HandleFunc("/master-secret/rotate", masterSecretHandler.Rotate).Methods("POST", "OPTIONS")
	api.HandleFunc("/master-secret/delete", masterSecretHandler.Delete).Methods("DELETE", "OPTIONS")

	api.HandleFunc("/vault/records", vaultRecordHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/vault/records", vaultRecordHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/vault/records/{id}", vaultRecordHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/vault/records/{id}/use", vaultRecordHandler.MarkUsed).Methods("POST", "OPTIONS")
	api.HandleFunc("/vault/records/{id}", vaultRecordHandler.Delete).Methods("DELETE", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	if cfg.Server.MetricsEnabled {
		r.Handle("/metrics", registry.Handler()).Methods("GET")
	}
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	// Rotation commits carry every record and end in a bulk write.
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting zkvault server on %s (env: %s)", addr, cfg.Server.Env)
		log.Printf("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	wsManager.Stop()

	log.Println("Server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"zkvault"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"zkvault API","version":"1.0.0","endpoints":{"/api/v1/master-secret/status":"GET (protected)","/api/v1/master-secret/verify":"POST (protected)","/api/v1/vault/records":"GET (protected)","/ws":"websocket"}}`))
}
