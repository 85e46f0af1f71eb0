package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"transactionService/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQuery = 500 * time.Millisecond

// Connect открывает хранилище транзакций и накатывает миграции.
// Сообщения gorm о медленных запросах и ошибках уходят в logger
func Connect(cfg *config.Config, logger *slog.Logger) (*gorm.DB, error) {
	if err := migrateUp(cfg.DB.MigrationsPath, cfg.DatabaseURL()); err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.New(slog.NewLogLogger(logger.Handler(), slog.LevelWarn), gormlogger.Config{
			SlowThreshold:             slowQuery,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		// ErrDuplicatedKey вместо ошибки драйвера при повторе идентификатора
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пула соединений: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLife)

	return db, nil
}

// Close закрывает пул соединений gorm
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func migrateUp(source, databaseURL string) error {
	m, err := migrate.New(source, databaseURL)
	if err != nil {
		return fmt.Errorf("ошибка создания миграции: %w", err)
	}
	defer m.Close()

	switch err := m.Up(); {
	case err == nil, errors.Is(err, migrate.ErrNoChange):
		return nil
	default:
		version, dirty, _ := m.Version()
		return fmt.Errorf("ошибка выполнения миграций (версия %d, dirty=%t): %w", version, dirty, err)
	}
}

// NewPgxPool создает пул pgx для общего хранилища ключей идемпотентности
func NewPgxPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора настроек пула: %w", err)
	}
	if cfg.DB.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.DB.MaxOpenConns)
	}
	poolConfig.MaxConnLifetime = cfg.DB.ConnMaxLife

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула соединений: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("база данных недоступна: %w", err)
	}
	return pool, nil
}
