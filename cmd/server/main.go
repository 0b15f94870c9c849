package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"github.com/tripdesk/backoffice/internal/database"
	mW "github.com/tripdesk/backoffice/internal/middleware"
	"github.com/tripdesk/backoffice/internal/services"
)

// @title Back Office Ledger API
// @version 1.0
// @description Ledger and reconciliation core for tour operator back-office accounting
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("static.receipts_dir", "RECEIPTS_DIR")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	viper.SetDefault("static.receipts_dir", "./static/receipts")

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	recalcService := services.NewRecalculatorService(db)
	leadService := services.NewLeadService(db, recalcService)
	transactionService := services.NewTransactionService(db, redisClient, recalcService, leadService)
	bankAccountService := services.NewBankAccountService(db, recalcService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// Static file server for payment receipt images
	r.Handle("/static/receipts/*", http.StripPrefix("/static/receipts/",
		mW.StaticFileServer(viper.GetString("static.receipts_dir"))))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", transactionService.CreateTransaction)
			r.Get("/", transactionService.ListTransactions)
			r.Get("/pending", transactionService.GetPendingTransactions)
			r.Get("/dual-bank", transactionService.GetDualBankTransactions)
			r.Get("/driver-bank", transactionService.GetDriverBankTransactions)
			r.Get("/automatic-hotel", transactionService.GetAutomaticHotelTransactions)
			r.Get("/automatic-cab", transactionService.GetAutomaticCabTransactions)
			r.Get("/lead/{leadRef}", transactionService.GetTransactionsByLead)
			r.Get("/operation/{operationId}", transactionService.GetTransactionsByOperation)
			r.Get("/{txId}", transactionService.GetTransaction)
			r.Patch("/{txId}", transactionService.UpdateTransaction)
			r.Delete("/{txId}", transactionService.DeleteTransaction)
		})

		r.Route("/bank-accounts", func(r chi.Router) {
			r.Post("/", bankAccountService.CreateBankAccount)
			r.Get("/", bankAccountService.ListBankAccounts)
			r.Post("/recalculate-all", bankAccountService.RecalculateAllBankAccounts)
			r.Post("/auto-provision/properties", bankAccountService.ProvisionPropertyAccounts)
			r.Post("/auto-provision/drivers", bankAccountService.ProvisionDriverAccounts)
			r.Get("/{bankId}", bankAccountService.GetBankAccount)
			r.Patch("/{bankId}", bankAccountService.UpdateBankAccount)
			r.Delete("/{bankId}", bankAccountService.DeleteBankAccount)
			r.Get("/{bankId}/transactions", bankAccountService.GetBankStatement)
			r.Post("/{bankId}/recalculate", bankAccountService.RecalculateBankAccount)
		})

		r.Route("/leads", func(r chi.Router) {
			r.Post("/{leadRef}/fix-remaining", leadService.FixRemaining)
			r.Get("/{leadRef}/debug-amounts", leadService.DebugAmounts)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
