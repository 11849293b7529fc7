// Точка входа Tally Service — сервис бюллетеней, жизненного цикла выборов
// и подсчёта голосов. Загружает конфигурацию, применяет миграции,
// подключается к PostgreSQL, создаёт сервисный слой и API handlers,
// запускает outbox аудита, topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/govote/internal/api/handlers"
	"github.com/bigkaa/govote/internal/api/middleware"
	"github.com/bigkaa/govote/internal/api/schema"
	"github.com/bigkaa/govote/internal/config"
	"github.com/bigkaa/govote/internal/database"
	"github.com/bigkaa/govote/internal/domain/rbac"
	"github.com/bigkaa/govote/internal/ratelimit"
	"github.com/bigkaa/govote/internal/repository"
	"github.com/bigkaa/govote/internal/server"
	"github.com/bigkaa/govote/internal/service"
)

// auditOutboxCapacity — ёмкость очереди повторной записи аудита.
const auditOutboxCapacity = 1024

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load(config.ServiceTally)
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Tally Service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Хранилище и rate limiter деструктивных операций
	store := repository.NewTallyStore(pool)

	deps := []handlers.Dependency{
		{Name: "postgresql", Checker: database.NewReadinessChecker(pool)},
	}

	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case config.RateLimitRedis:
		rl, err := ratelimit.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error("Ошибка создания Redis rate limiter", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rl.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rl.Ping(pingCtx); err != nil {
			logger.Warn("Redis недоступен при старте", slog.String("error", err.Error()))
		}
		cancel()
		limiter = rl
		deps = append(deps, handlers.Dependency{Name: "redis", Checker: &redisChecker{rl: rl}})
		logger.Info("Rate limiter: Redis", slog.String("addr", cfg.RedisAddr))
	default:
		limiter = ratelimit.NewMemory(ratelimit.DefaultMaxKeys, cfg.DestructiveWindow)
		logger.Info("Rate limiter: in-process (лимиты не разделяются между репликами)")
	}

	// 6. Аудит: запись в транзакции, повтор через outbox
	outbox := service.NewAuditOutbox(store.Repos().Audit, auditOutboxCapacity,
		cfg.AuditRetryAttempts, cfg.AuditRetryInterval, logger)
	audit := service.NewAuditRecorder(outbox, logger)

	// 7. Services
	electionsSvc := service.NewElectionService(store, audit, limiter, service.ElectionConfig{
		TokenTTL:          cfg.TokenTTL,
		MaxBulkTokens:     cfg.MaxBulkTokens,
		DestructiveLimit:  cfg.DestructiveLimit,
		DestructiveWindow: cfg.DestructiveWindow,
	}, logger)
	ballotsSvc := service.NewBallotService(store, logger)
	tokensSvc := service.NewTokenService(store, audit, logger)
	resultsSvc := service.NewResultsService(store, logger)
	auditSvc := service.NewAuditService(store.Repos().Audit, logger)

	// 8. Схемы запросов (OpenAPI)
	validator, err := schema.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. Readiness checkers (PostgreSQL, IdP, Redis)
	deps = append(deps, handlers.Dependency{
		Name:    "idp",
		Checker: middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, 5*time.Second),
	})
	healthHandler := handlers.NewHealthHandler(string(cfg.Service), deps...)

	// 10. API handler
	apiHandler := handlers.NewTallyHandler(
		healthHandler,
		electionsSvc,
		ballotsSvc,
		tokensSvc,
		resultsSvc,
		auditSvc,
		validator,
		logger,
	)

	// 11. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTIssuer,
		groupMapping(cfg),
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 12. Запуск фоновых задач
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	outbox.Start(bgCtx)

	// 12.1 topologymetrics — мониторинг зависимостей (PostgreSQL + IdP)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     string(cfg.Service),
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		DatabaseURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(bgCtx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	}

	// 13. Создание и запуск HTTP-сервера
	router := server.NewTallyRouter(apiHandler, jwtAuth.Middleware(), cfg.S2SSecret, logger)
	srv := server.New(cfg, logger, router)
	runErr := srv.Run()

	// 14. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	cancelBg()
	outbox.Stop()

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("Tally Service остановлен")
}

// groupMapping собирает соответствие групп IdP ролям из конфигурации.
func groupMapping(cfg *config.Config) rbac.GroupMapping {
	return rbac.GroupMapping{
		Member:    cfg.RoleMemberGroups,
		Readonly:  cfg.RoleReadonlyGroups,
		Admin:     cfg.RoleAdminGroups,
		Superuser: cfg.RoleSuperuserGroups,
	}
}

// redisChecker — readiness-проверка Redis rate limiter.
type redisChecker struct {
	rl *ratelimit.Redis
}

// CheckReady возвращает degraded: без Redis деструктивные операции
// отклоняются, остальной API работает.
func (c *redisChecker) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.rl.Ping(ctx); err != nil {
		return "degraded", "Redis недоступен: " + err.Error()
	}
	return "ok", ""
}
