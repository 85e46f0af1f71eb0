package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"transactionService/config"
	"transactionService/database"
	"transactionService/services"
	"transactionService/utils"

	"go.mongodb.org/mongo-driver/mongo/readpref"
	"gorm.io/gorm"
)

const (
	auditCollection  = "transaction_audit"
	eventsCollection = "transaction_events"
	eventBuffer      = 1024
)

// Application - собранные компоненты сервиса и функции их остановки
type Application struct {
	Transactions *services.TransactionService
	Recovery     *services.RecoveryService
	Ready        func(ctx context.Context) error

	closers []func()
}

// Close останавливает компоненты в обратном порядке
func (a *Application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Build подключает хранилища и собирает TransactionService
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	a := &Application{}
	metrics := utils.GetMetrics()

	// Инициализируем подключение к базе данных
	db, err := database.Connect(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}
	a.closers = append(a.closers, func() { database.Close(db) })

	keys, err := a.idempotencyStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Аудит и события
	mongoClient, err := database.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Timeout)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
		defer cancel()
		mongoClient.Disconnect(ctx)
	})
	provider := database.NewMongoProvider(mongoClient, cfg.Mongo.Database)

	publisher := services.NewMongoEventPublisher(provider.Collection(eventsCollection), eventBuffer, cfg.Mongo.Timeout)
	a.closers = append(a.closers, publisher.Close)
	audit := services.NewMongoAuditLogger(provider.Collection(auditCollection), cfg.Mongo.Timeout)

	gateway := services.NewHTTPAccountGateway(&http.Client{}, services.GatewayOptions{
		BaseURL:          cfg.Gateway.BaseURL,
		Timeout:          cfg.Gateway.Timeout,
		MaxRetries:       cfg.Gateway.MaxRetries,
		InitialBackoff:   cfg.Gateway.InitialBackoff,
		MaxBackoff:       cfg.Gateway.MaxBackoff,
		FailureThreshold: cfg.Gateway.FailureThreshold,
		OpenTimeout:      cfg.Gateway.OpenTimeout,
	}, metrics)

	a.Transactions = services.NewTransactionService(cfg, services.Dependencies{
		Store:       services.NewGormTransactionStore(db),
		Gateway:     gateway,
		Idempotency: keys,
		Publisher:   publisher,
		Audit:       audit,
		Notifier:    services.NewAlertService(cfg),
		Metrics:     metrics,
	})
	a.Recovery = services.NewRecoveryService(cfg, a.Transactions)
	a.Ready = readinessCheck(db, func(ctx context.Context) error {
		return mongoClient.Ping(ctx, readpref.Primary())
	})

	logger.Info("компоненты сервиса инициализированы", "idempotency_backend", cfg.Idempotency.Backend)
	return a, nil
}

// idempotencyStore открывает хранилище ключей идемпотентности по настройке idempotency.backend
func (a *Application) idempotencyStore(ctx context.Context, cfg *config.Config) (services.IdempotencyStore, error) {
	if cfg.Idempotency.Backend == "bolt" {
		store, err := services.NewBoltIdempotencyStore(cfg.Idempotency.BoltPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { store.Close() })
		return store, nil
	}

	pool, err := database.NewPgxPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	return services.NewPostgresIdempotencyStore(pool), nil
}

func readinessCheck(db *gorm.DB, pingMongo func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := pingMongo(ctx); err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
		return nil
	}
}
