package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// FeeTier описывает двухступенчатую комиссию платежной системы:
// UpTo при сумме не больше Threshold, Above при сумме больше
type FeeTier struct {
	Threshold decimal.Decimal
	UpTo      decimal.Decimal
	Above     decimal.Decimal
}

// ChargesConfig содержит тарифы и ставку налога на комиссию
type ChargesConfig struct {
	TaxRate decimal.Decimal
	IMPS    FeeTier
	NEFT    FeeTier
	RTGS    FeeTier
}

// LimitsConfig содержит лимиты на операции
type LimitsConfig struct {
	PerTransaction       decimal.Decimal
	Daily                decimal.Decimal
	LargeAmountThreshold decimal.Decimal
	RTGSMinAmount        decimal.Decimal
}

// TransferConfig включает и выключает платежные системы
type TransferConfig struct {
	IMPSEnabled bool
	NEFTEnabled bool
	RTGSEnabled bool
}

// Config представляет конфигурацию приложения
type Config struct {
	Server struct {
		Port       int
		RateLimit  int
		RateWindow time.Duration
	}
	Ops struct {
		Port int
	}
	DB struct {
		Host           string
		Port           int
		User           string
		Password       string
		DBName         string
		MigrationsPath string
		MaxOpenConns   int
		MaxIdleConns   int
		ConnMaxLife    time.Duration
	}
	Idempotency struct {
		Backend  string // bolt или postgres
		BoltPath string
		TTL      time.Duration
	}
	Mongo struct {
		URI      string
		Database string
		Timeout  time.Duration
	}
	JWT struct {
		SecretKey string
	}
	SMTP struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
		AlertTo  string
	}
	Gateway struct {
		BaseURL          string
		Timeout          time.Duration
		MaxRetries       int
		InitialBackoff   time.Duration
		MaxBackoff       time.Duration
		FailureThreshold int
		OpenTimeout      time.Duration
	}
	Cache struct {
		TTL     time.Duration
		MaxSize int
	}
	Recovery struct {
		Enabled    bool
		Interval   time.Duration
		StaleAfter time.Duration
		BatchSize  int
	}
	Log struct {
		Level  string
		Format string
	}
	Limits   LimitsConfig
	Charges  ChargesConfig
	Transfer TransferConfig
}

// setDefaults задает значения по умолчанию
func setDefaults(v *viper.Viper) {
	// Настройки сервера
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.rate_window", "1m")
	v.SetDefault("ops.port", 9090)

	// Настройки базы данных
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "transaction_db")
	v.SetDefault("db.migrations_path", "file://migrations")
	v.SetDefault("db.max_open_conns", 50)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_life", time.Hour)

	v.SetDefault("idempotency.backend", "postgres")
	v.SetDefault("idempotency.bolt_path", "idempotency.db")
	v.SetDefault("idempotency.ttl", "24h")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "transactions")
	v.SetDefault("mongo.timeout", "5s")

	v.SetDefault("jwt.secret_key", "your-secret-key-here")

	// Настройки SMTP
	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "your-email@gmail.com")
	v.SetDefault("smtp.password", "your-app-password")
	v.SetDefault("smtp.from", "your-email@gmail.com")
	v.SetDefault("smtp.alert_to", "operations@example.com")

	// Реестр счетов
	v.SetDefault("gateway.base_url", "http://localhost:8081")
	v.SetDefault("gateway.timeout", "5s")
	v.SetDefault("gateway.max_retries", 3)
	v.SetDefault("gateway.initial_backoff", "100ms")
	v.SetDefault("gateway.max_backoff", "2s")
	v.SetDefault("gateway.failure_threshold", 5)
	v.SetDefault("gateway.open_timeout", "30s")

	v.SetDefault("cache.ttl", "1m")
	v.SetDefault("cache.max_size", 10000)

	v.SetDefault("recovery.enabled", true)
	v.SetDefault("recovery.interval", "1m")
	v.SetDefault("recovery.stale_after", "5m")
	v.SetDefault("recovery.batch_size", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Лимиты
	v.SetDefault("limits.per_transaction", "500000.00")
	v.SetDefault("limits.daily", "1000000.00")
	v.SetDefault("limits.large_amount_threshold", "100000.00")
	v.SetDefault("limits.rtgs_min_amount", "200000.00")

	// Тарифы
	v.SetDefault("charges.tax_rate", "0.18")
	v.SetDefault("charges.imps.threshold", "1000")
	v.SetDefault("charges.imps.up_to", "5.00")
	v.SetDefault("charges.imps.above", "15.00")
	v.SetDefault("charges.neft.threshold", "10000")
	v.SetDefault("charges.neft.up_to", "2.50")
	v.SetDefault("charges.neft.above", "5.00")
	v.SetDefault("charges.rtgs.threshold", "200000")
	v.SetDefault("charges.rtgs.up_to", "25.00")
	v.SetDefault("charges.rtgs.above", "50.00")

	v.SetDefault("transfer.imps.enabled", true)
	v.SetDefault("transfer.neft.enabled", true)
	v.SetDefault("transfer.rtgs.enabled", true)
}

// NewConfig создает новый экземпляр конфигурации из config.yaml и переменных окружения
func NewConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %v", err)
		}
	}

	return fromViper(v)
}

// fromViper заполняет Config из viper
func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.RateLimit = v.GetInt("server.rate_limit")
	cfg.Server.RateWindow = v.GetDuration("server.rate_window")
	cfg.Ops.Port = v.GetInt("ops.port")

	cfg.DB.Host = v.GetString("db.host")
	cfg.DB.Port = v.GetInt("db.port")
	cfg.DB.User = v.GetString("db.user")
	cfg.DB.Password = v.GetString("db.password")
	cfg.DB.DBName = v.GetString("db.name")
	cfg.DB.MigrationsPath = v.GetString("db.migrations_path")
	cfg.DB.MaxOpenConns = v.GetInt("db.max_open_conns")
	cfg.DB.MaxIdleConns = v.GetInt("db.max_idle_conns")
	cfg.DB.ConnMaxLife = v.GetDuration("db.conn_max_life")

	cfg.Idempotency.Backend = strings.ToLower(v.GetString("idempotency.backend"))
	cfg.Idempotency.BoltPath = v.GetString("idempotency.bolt_path")
	cfg.Idempotency.TTL = v.GetDuration("idempotency.ttl")
	if cfg.Idempotency.Backend != "bolt" && cfg.Idempotency.Backend != "postgres" {
		return nil, fmt.Errorf("неизвестное хранилище ключей идемпотентности: %s", cfg.Idempotency.Backend)
	}
	if cfg.Idempotency.TTL <= 0 {
		return nil, fmt.Errorf("время жизни ключа идемпотентности должно быть положительным")
	}

	cfg.Mongo.URI = v.GetString("mongo.uri")
	cfg.Mongo.Database = v.GetString("mongo.database")
	cfg.Mongo.Timeout = v.GetDuration("mongo.timeout")

	cfg.JWT.SecretKey = v.GetString("jwt.secret_key")

	cfg.SMTP.Host = v.GetString("smtp.host")
	cfg.SMTP.Port = v.GetInt("smtp.port")
	cfg.SMTP.Username = v.GetString("smtp.username")
	cfg.SMTP.Password = v.GetString("smtp.password")
	cfg.SMTP.From = v.GetString("smtp.from")
	cfg.SMTP.AlertTo = v.GetString("smtp.alert_to")

	cfg.Gateway.BaseURL = strings.TrimRight(v.GetString("gateway.base_url"), "/")
	cfg.Gateway.Timeout = v.GetDuration("gateway.timeout")
	cfg.Gateway.MaxRetries = v.GetInt("gateway.max_retries")
	cfg.Gateway.InitialBackoff = v.GetDuration("gateway.initial_backoff")
	cfg.Gateway.MaxBackoff = v.GetDuration("gateway.max_backoff")
	cfg.Gateway.FailureThreshold = v.GetInt("gateway.failure_threshold")
	cfg.Gateway.OpenTimeout = v.GetDuration("gateway.open_timeout")

	cfg.Cache.TTL = v.GetDuration("cache.ttl")
	cfg.Cache.MaxSize = v.GetInt("cache.max_size")

	cfg.Recovery.Enabled = v.GetBool("recovery.enabled")
	cfg.Recovery.Interval = v.GetDuration("recovery.interval")
	cfg.Recovery.StaleAfter = v.GetDuration("recovery.stale_after")
	cfg.Recovery.BatchSize = v.GetInt("recovery.batch_size")

	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")

	// Денежные значения
	amounts := []struct {
		key    string
		target *decimal.Decimal
	}{
		{"limits.per_transaction", &cfg.Limits.PerTransaction},
		{"limits.daily", &cfg.Limits.Daily},
		{"limits.large_amount_threshold", &cfg.Limits.LargeAmountThreshold},
		{"limits.rtgs_min_amount", &cfg.Limits.RTGSMinAmount},
		{"charges.tax_rate", &cfg.Charges.TaxRate},
		{"charges.imps.threshold", &cfg.Charges.IMPS.Threshold},
		{"charges.imps.up_to", &cfg.Charges.IMPS.UpTo},
		{"charges.imps.above", &cfg.Charges.IMPS.Above},
		{"charges.neft.threshold", &cfg.Charges.NEFT.Threshold},
		{"charges.neft.up_to", &cfg.Charges.NEFT.UpTo},
		{"charges.neft.above", &cfg.Charges.NEFT.Above},
		{"charges.rtgs.threshold", &cfg.Charges.RTGS.Threshold},
		{"charges.rtgs.up_to", &cfg.Charges.RTGS.UpTo},
		{"charges.rtgs.above", &cfg.Charges.RTGS.Above},
	}
	for _, a := range amounts {
		value, err := decimal.NewFromString(v.GetString(a.key))
		if err != nil {
			return nil, fmt.Errorf("неверный формат суммы %s: %v", a.key, err)
		}
		if value.IsNegative() {
			return nil, fmt.Errorf("значение %s не может быть отрицательным", a.key)
		}
		*a.target = value
	}

	if cfg.Charges.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("ставка налога должна быть не больше 1: %s", cfg.Charges.TaxRate)
	}
	if cfg.Limits.RTGSMinAmount.GreaterThan(cfg.Limits.PerTransaction) {
		return nil, fmt.Errorf("минимальная сумма RTGS %s превышает лимит на операцию %s",
			cfg.Limits.RTGSMinAmount, cfg.Limits.PerTransaction)
	}

	cfg.Transfer.IMPSEnabled = v.GetBool("transfer.imps.enabled")
	cfg.Transfer.NEFTEnabled = v.GetBool("transfer.neft.enabled")
	cfg.Transfer.RTGSEnabled = v.GetBool("transfer.rtgs.enabled")

	return cfg, nil
}

// DSN возвращает строку подключения к базе данных для gorm
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		dsnValue(c.DB.Host),
		c.DB.Port,
		dsnValue(c.DB.User),
		dsnValue(c.DB.Password),
		dsnValue(c.DB.DBName),
	)
}

// dsnValue берет значение в кавычки, если в нем есть пробел, кавычка или обратная косая черта
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

// DatabaseURL возвращает URL базы данных для миграций и pgx.
// Логин и пароль экранируются, поэтому в них допустимы '@', ':' и '/'
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     net.JoinHostPort(c.DB.Host, strconv.Itoa(c.DB.Port)),
		Path:     "/" + c.DB.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
