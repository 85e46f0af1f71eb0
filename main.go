package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transactionService/app"
	"transactionService/config"
	"transactionService/controllers"
	"transactionService/middleware"
	"transactionService/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 15 * time.Second

// newAPIRouter создает роутер API транзакций
func newAPIRouter(cfg *config.Config, transactions controllers.TransactionOperations, logger *slog.Logger, metrics *utils.Metrics) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger, metrics))
	router.Use(middleware.RecoveryMiddleware)

	// Защищенные маршруты
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.AuthMiddleware([]byte(cfg.JWT.SecretKey)))
	api.Use(middleware.RateLimitMiddleware(utils.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow)))

	controllers.NewTransactionController(transactions).RegisterRoutes(api)
	return router
}

// newOpsRouter создает служебный сервер: живость, готовность и метрики
func newOpsRouter(logger *slog.Logger, ready func(context.Context) error) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logger(logger), middleware.Recovery(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			logger.Warn("сервис не готов", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func main() {
	// Инициализируем конфигурацию
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := utils.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = utils.WithLogger(ctx, logger)

	application, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("ошибка инициализации сервиса", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	// Запускаем задачу восстановления зависших переводов
	if cfg.Recovery.Enabled {
		application.Recovery.Start(ctx)
		logger.Info("задача восстановления запущена", "interval", cfg.Recovery.Interval)
	}

	gin.SetMode(gin.ReleaseMode)
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newAPIRouter(cfg, application.Transactions, logger, utils.GetMetrics()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Ops.Port),
		Handler:           newOpsRouter(logger, application.Ready),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, opsServer} {
		go func(srv *http.Server) {
			logger.Info("сервер запущен", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки")
	case err := <-errCh:
		logger.Error("ошибка сервера", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range []*http.Server{apiServer, opsServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("ошибка остановки сервера", "addr", srv.Addr, "error", err)
		}
	}
	logger.Info("сервис остановлен")
}
