package routes

import (
	"net/http"
	"os"

	"github.com/collabmart/wallet-api/internal/auth"
	"github.com/collabmart/wallet-api/internal/key"
	"github.com/collabmart/wallet-api/internal/middleware"
	"github.com/collabmart/wallet-api/internal/user"
	"github.com/collabmart/wallet-api/internal/wallet"
	"github.com/collabmart/wallet-api/pkg/config"
	"github.com/collabmart/wallet-api/pkg/database"
	"github.com/collabmart/wallet-api/pkg/events"
	"github.com/collabmart/wallet-api/pkg/logger"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"
)

func RegisterRoutes(r *mux.Router, cfg config.Config, redisClient *events.RedisClient, walletRepo wallet.Repository) http.Handler {
	userRepo := user.NewRepository(database.DB)
	keyRepo := key.NewRepository(database.DB)

	authHandler := auth.NewHandler(cfg, userRepo)
	keyHandler := key.NewHandler(cfg, keyRepo)
	walletHandler := wallet.NewHandler(cfg, walletRepo, redisClient)

	r.Use(middleware.LoggingMiddleware)

	// unauthenticated surfaces get a per-IP limiter
	limiter := middleware.NewRateLimiter(rate.Limit(5), 10)

	authR := r.PathPrefix("/api/auth").Subrouter()
	authR.Use(limiter.Limit)
	authR.HandleFunc("/google", authHandler.GoogleLogin).Methods("GET")
	authR.HandleFunc("/google/callback", authHandler.GoogleCallback).Methods("GET")

	keysR := r.PathPrefix("/api/keys").Subrouter()
	keysR.Use(auth.JWTMiddleware(cfg, userRepo))
	keysR.HandleFunc("", keyHandler.ListAPIKeys).Methods("GET")
	keysR.HandleFunc("/create", keyHandler.CreateAPIKey).Methods("POST")
	keysR.HandleFunc("/rollover", keyHandler.RolloverAPIKey).Methods("POST")
	keysR.HandleFunc("/revoke", keyHandler.RevokeAPIKey).Methods("POST")

	walletR := r.PathPrefix("/api/wallet").Subrouter()

	// provider confirmations carry their own HMAC signature, no session auth
	walletR.Handle("/provider/webhook", limiter.Limit(http.HandlerFunc(walletHandler.ProviderWebhook))).Methods("POST")

	opsR := walletR.PathPrefix("").Subrouter()
	opsR.Use(auth.UnifiedAuthMiddleware(cfg, userRepo, keyRepo))
	opsR.Handle("", auth.RequirePermission(string(key.PermissionRead))(http.HandlerFunc(walletHandler.GetWallet))).Methods("GET")
	opsR.Handle("/balance", auth.RequirePermission(string(key.PermissionRead))(http.HandlerFunc(walletHandler.GetWalletBalance))).Methods("GET")
	opsR.Handle("/transactions", auth.RequirePermission(string(key.PermissionRead))(http.HandlerFunc(walletHandler.GetTransactions))).Methods("GET")
	opsR.Handle("/deposit", auth.RequirePermission(string(key.PermissionDeposit))(http.HandlerFunc(walletHandler.WalletDeposit))).Methods("POST")
	opsR.Handle("/deposit/{reference}/status", auth.RequirePermission(string(key.PermissionRead))(http.HandlerFunc(walletHandler.GetDepositStatus))).Methods("GET")
	opsR.Handle("/withdrawals", auth.RequirePermission(string(key.PermissionWithdrawal))(http.HandlerFunc(walletHandler.RequestWithdrawal))).Methods("POST")
	opsR.Handle("/withdrawals", auth.RequirePermission(string(key.PermissionRead))(http.HandlerFunc(walletHandler.ListWithdrawals))).Methods("GET")
	opsR.Handle("/convert", auth.RequirePermission(string(key.PermissionConvert))(http.HandlerFunc(walletHandler.ConvertPoints))).Methods("POST")

	adminR := r.PathPrefix("/api/admin").Subrouter()
	adminR.Use(auth.JWTMiddleware(cfg, userRepo))
	adminR.Use(auth.AdminOnly)
	adminR.HandleFunc("/withdrawals", walletHandler.AdminListWithdrawals).Methods("GET")
	adminR.HandleFunc("/withdrawals/{id}/approve", walletHandler.AdminApproveWithdrawal).Methods("POST")
	adminR.HandleFunc("/withdrawals/{id}/reject", walletHandler.AdminRejectWithdrawal).Methods("POST")
	adminR.HandleFunc("/withdrawals/{id}/process", walletHandler.AdminProcessWithdrawal).Methods("POST")
	adminR.HandleFunc("/wallets/{userId}/kyc", walletHandler.AdminSetKyc).Methods("POST")
	adminR.HandleFunc("/wallets/{userId}/adjustments", walletHandler.AdminAdjustWallet).Methods("POST")

	if cfg.Env != "production" {
		r.HandleFunc("/swagger.yaml", func(w http.ResponseWriter, r *http.Request) {
			content, err := os.ReadFile("docs/swagger.yaml")
			if err != nil {
				logger.Error("Failed to read swagger.yaml", logger.Fields{"error": err.Error()})
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/yaml")
			w.Write(content)
		})

		r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
			httpSwagger.URL("/swagger.yaml"),
		))
		logger.Info("Swagger documentation enabled at /swagger/index.html")
	}

	corsObj := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "x-api-key"}),
	)

	return corsObj(r)
}
