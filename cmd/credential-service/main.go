// Точка входа Credential Service — выдача credentials участникам.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт S2S-клиент Tally Service, сервисный слой и API handlers,
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
	"github.com/bigkaa/govote/internal/config"
	"github.com/bigkaa/govote/internal/database"
	"github.com/bigkaa/govote/internal/domain/rbac"
	"github.com/bigkaa/govote/internal/repository"
	"github.com/bigkaa/govote/internal/server"
	"github.com/bigkaa/govote/internal/service"
	"github.com/bigkaa/govote/internal/tallyclient"
)

// auditOutboxCapacity — ёмкость очереди повторной записи аудита.
const auditOutboxCapacity = 1024

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load(config.ServiceCredential)
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Credential Service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("tally_url", cfg.TallyURL),
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

	// 5. S2S-клиент Tally Service
	tally := tallyclient.New(cfg.TallyURL, cfg.S2SSecret, cfg.TallyTimeout, logger)

	// 6. Хранилище и аудит
	store := repository.NewCredentialStore(pool)
	outbox := service.NewAuditOutbox(store.Repos().Audit, auditOutboxCapacity,
		cfg.AuditRetryAttempts, cfg.AuditRetryInterval, logger)
	audit := service.NewAuditRecorder(outbox, logger)

	// 7. Services
	issuanceSvc := service.NewIssuanceService(store, tally, audit, service.IssuanceConfig{
		TokenTTL:     cfg.TokenTTL,
		TallyTimeout: cfg.TallyTimeout,
	}, logger)

	// 8. Readiness checkers (PostgreSQL, IdP, Tally Service)
	healthHandler := handlers.NewHealthHandler(string(cfg.Service),
		handlers.Dependency{Name: "postgresql", Checker: database.NewReadinessChecker(pool)},
		handlers.Dependency{Name: "idp", Checker: middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, 5*time.Second)},
		handlers.Dependency{Name: "tally-service", Checker: tally},
	)

	// 9. API handler
	apiHandler := handlers.NewCredentialHandler(healthHandler, issuanceSvc, logger)

	// 10. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTIssuer,
		rbac.GroupMapping{
			Member:    cfg.RoleMemberGroups,
			Readonly:  cfg.RoleReadonlyGroups,
			Admin:     cfg.RoleAdminGroups,
			Superuser: cfg.RoleSuperuserGroups,
		},
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

	// 11. Запуск фоновых задач
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	outbox.Start(bgCtx)

	// 11.1 topologymetrics — мониторинг зависимостей (PostgreSQL + IdP + Tally Service)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     string(cfg.Service),
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		DatabaseURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		TallyURL:      cfg.TallyURL,
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

	// 12. Создание и запуск HTTP-сервера
	router := server.NewCredentialRouter(apiHandler, jwtAuth.Middleware(), logger)
	srv := server.New(cfg, logger, router)
	runErr := srv.Run()

	// 13. Graceful shutdown фоновых задач
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
	logger.Info("Credential Service остановлен")
}
