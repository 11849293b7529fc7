// Пакет config — загрузка и валидация конфигурации Credential Service
// и Tally Service из переменных окружения.
//
// Оба сервиса используют один набор параметров с разными префиксами:
// CS_ — Credential Service, TS_ — Tally Service. Параметры, специфичные
// для одного сервиса, валидируются только для него.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Service — идентификатор сервиса, для которого загружается конфигурация.
type Service string

const (
	// ServiceCredential — сервис выдачи учётных данных для голосования.
	ServiceCredential Service = "credential-service"
	// ServiceTally — сервис бюллетеней, жизненного цикла выборов и подсчёта.
	ServiceTally Service = "tally-service"
)

// Prefix возвращает префикс переменных окружения сервиса.
func (s Service) Prefix() string {
	if s == ServiceCredential {
		return "CS_"
	}
	return "TS_"
}

// Допустимые бэкенды rate limiter.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Service — сервис, для которого загружена конфигурация.
	Service Service

	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT ---

	// URL JWKS endpoint IdP
	JWTJWKSURL string
	// Ожидаемый issuer (пустой — не проверяется)
	JWTIssuer string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration

	// --- Маппинг групп → ролей ---

	RoleMemberGroups    []string
	RoleReadonlyGroups  []string
	RoleAdminGroups     []string
	RoleSuperuserGroups []string

	// --- Межсервисное взаимодействие ---

	// Общий секрет заголовка X-Service-Secret
	S2SSecret string

	// --- Учётные данные ---

	// Время жизни выданного credential
	TokenTTL time.Duration

	// --- Credential Service ---

	// Базовый URL Tally Service
	TallyURL string
	// Таймаут S2S-запросов к Tally Service
	TallyTimeout time.Duration

	// --- Tally Service ---

	// Максимальное число credentials, выпускаемых при open
	MaxBulkTokens int
	// Бэкенд rate limiter: memory или redis
	RateLimitBackend string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	// Лимит деструктивных операций на одного суперпользователя
	DestructiveLimit  int
	DestructiveWindow time.Duration

	// --- Outbox аудита ---

	// Повторы записи аудита из outbox
	AuditRetryAttempts int
	AuditRetryInterval time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию сервиса svc из переменных окружения,
// валидирует обязательные поля и возвращает Config или ошибку.
func Load(svc Service) (*Config, error) {
	if svc != ServiceCredential && svc != ServiceTally {
		return nil, fmt.Errorf("неизвестный сервис %q", svc)
	}

	p := svc.Prefix()
	cfg := &Config{Service: svc}
	var err error

	// --- Сервер ---

	defaultPort := 8020
	if svc == ServiceCredential {
		defaultPort = 8010
	}
	cfg.Port, err = getEnvInt(p+"PORT", defaultPort)
	if err != nil {
		return nil, fmt.Errorf("%sPORT: %w", p, err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%sPORT: значение %d вне допустимого диапазона 1-65535", p, cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault(p+"LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("%sLOG_LEVEL: %w", p, err)
	}

	cfg.LogFormat = getEnvDefault(p+"LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("%sLOG_FORMAT: недопустимое значение %q, допустимые: json, text", p, cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration(p+"HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("%sHTTP_READ_TIMEOUT: %w", p, err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration(p+"HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("%sHTTP_WRITE_TIMEOUT: %w", p, err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration(p+"HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("%sHTTP_IDLE_TIMEOUT: %w", p, err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired(p + "DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt(p+"DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("%sDB_PORT: %w", p, err)
	}
	if cfg.DBName, err = getEnvRequired(p + "DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired(p + "DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired(p + "DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault(p+"DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("%sDB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", p, cfg.DBSSLMode)
	}

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvRequired(p + "JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault(p+"JWT_ISSUER", "")
	if cfg.JWTLeeway, err = getEnvDuration(p+"JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("%sJWT_LEEWAY: %w", p, err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration(p+"JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("%sJWKS_REFRESH_INTERVAL: %w", p, err)
	}

	// --- Маппинг групп → ролей ---

	cfg.RoleMemberGroups = parseCSV(getEnvDefault(p+"ROLE_MEMBER_GROUPS", "members"))
	cfg.RoleReadonlyGroups = parseCSV(getEnvDefault(p+"ROLE_READONLY_GROUPS", "election-viewers"))
	cfg.RoleAdminGroups = parseCSV(getEnvDefault(p+"ROLE_ADMIN_GROUPS", "election-admins"))
	cfg.RoleSuperuserGroups = parseCSV(getEnvDefault(p+"ROLE_SUPERUSER_GROUPS", "superusers"))

	// --- S2S ---

	if cfg.S2SSecret, err = getEnvRequired(p + "S2S_SECRET"); err != nil {
		return nil, err
	}
	if len(cfg.S2SSecret) < 16 {
		return nil, fmt.Errorf("%sS2S_SECRET: секрет должен содержать не менее 16 символов", p)
	}

	// --- Учётные данные ---

	if cfg.TokenTTL, err = getEnvDuration(p+"TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("%sTOKEN_TTL: %w", p, err)
	}
	if cfg.TokenTTL < time.Minute {
		return nil, fmt.Errorf("%sTOKEN_TTL: значение %s меньше минимального 1m", p, cfg.TokenTTL)
	}

	// --- Outbox аудита ---

	if cfg.AuditRetryAttempts, err = getEnvInt(p+"AUDIT_RETRY_ATTEMPTS", 5); err != nil {
		return nil, fmt.Errorf("%sAUDIT_RETRY_ATTEMPTS: %w", p, err)
	}
	if cfg.AuditRetryAttempts < 1 || cfg.AuditRetryAttempts > 100 {
		return nil, fmt.Errorf("%sAUDIT_RETRY_ATTEMPTS: значение %d вне допустимого диапазона 1-100", p, cfg.AuditRetryAttempts)
	}
	if cfg.AuditRetryInterval, err = getEnvDuration(p+"AUDIT_RETRY_INTERVAL", 2*time.Second); err != nil {
		return nil, fmt.Errorf("%sAUDIT_RETRY_INTERVAL: %w", p, err)
	}

	// --- Специфичные для сервиса параметры ---

	switch svc {
	case ServiceCredential:
		if err := loadCredential(cfg, p); err != nil {
			return nil, err
		}
	case ServiceTally:
		if err := loadTally(cfg, p); err != nil {
			return nil, err
		}
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault(p+"DEPHEALTH_GROUP", "govote")
	if cfg.DephealthCheckInterval, err = getEnvDuration(p+"DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("%sDEPHEALTH_CHECK_INTERVAL: %w", p, err)
	}

	// --- Graceful shutdown ---

	if cfg.ShutdownTimeout, err = getEnvDuration(p+"SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("%sSHUTDOWN_TIMEOUT: %w", p, err)
	}

	return cfg, nil
}

// loadCredential загружает параметры Credential Service.
func loadCredential(cfg *Config, p string) error {
	var err error

	if cfg.TallyURL, err = getEnvRequired(p + "TALLY_URL"); err != nil {
		return err
	}
	cfg.TallyURL = strings.TrimRight(cfg.TallyURL, "/")
	if u, parseErr := url.Parse(cfg.TallyURL); parseErr != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%sTALLY_URL: некорректный URL %q", p, cfg.TallyURL)
	}

	if cfg.TallyTimeout, err = getEnvDuration(p+"TALLY_TIMEOUT", 5*time.Second); err != nil {
		return fmt.Errorf("%sTALLY_TIMEOUT: %w", p, err)
	}
	if cfg.TallyTimeout <= 0 || cfg.TallyTimeout > time.Minute {
		return fmt.Errorf("%sTALLY_TIMEOUT: значение %s вне допустимого диапазона (0, 1m]", p, cfg.TallyTimeout)
	}
	return nil
}

// loadTally загружает параметры Tally Service.
func loadTally(cfg *Config, p string) error {
	var err error

	cfg.MaxBulkTokens, err = getEnvInt(p+"MAX_BULK_TOKENS", 1000)
	if err != nil {
		return fmt.Errorf("%sMAX_BULK_TOKENS: %w", p, err)
	}
	if cfg.MaxBulkTokens < 1 || cfg.MaxBulkTokens > 100000 {
		return fmt.Errorf("%sMAX_BULK_TOKENS: значение %d вне допустимого диапазона 1-100000", p, cfg.MaxBulkTokens)
	}

	cfg.RateLimitBackend = getEnvDefault(p+"RATE_LIMIT_BACKEND", RateLimitMemory)
	switch cfg.RateLimitBackend {
	case RateLimitMemory:
	case RateLimitRedis:
		if cfg.RedisAddr, err = getEnvRequired(p + "REDIS_ADDR"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%sRATE_LIMIT_BACKEND: недопустимое значение %q, допустимые: memory, redis", p, cfg.RateLimitBackend)
	}
	cfg.RedisPassword = getEnvDefault(p+"REDIS_PASSWORD", "")
	if cfg.RedisDB, err = getEnvInt(p+"REDIS_DB", 0); err != nil {
		return fmt.Errorf("%sREDIS_DB: %w", p, err)
	}

	if cfg.DestructiveLimit, err = getEnvInt(p+"DESTRUCTIVE_LIMIT", 3); err != nil {
		return fmt.Errorf("%sDESTRUCTIVE_LIMIT: %w", p, err)
	}
	if cfg.DestructiveLimit < 1 {
		return fmt.Errorf("%sDESTRUCTIVE_LIMIT: значение должно быть положительным", p)
	}
	if cfg.DestructiveWindow, err = getEnvDuration(p+"DESTRUCTIVE_WINDOW", time.Hour); err != nil {
		return fmt.Errorf("%sDESTRUCTIVE_WINDOW: %w", p, err)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (формат pgx5://).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("service", string(cfg.Service)))
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
