// Пакет server — HTTP-серверы Credential Service и Tally Service
// с graceful shutdown. Без TLS: TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/govote/internal/api/handlers"
	"github.com/bigkaa/govote/internal/api/middleware"
	"github.com/bigkaa/govote/internal/config"
	"github.com/bigkaa/govote/internal/domain/lifecycle"
	"github.com/bigkaa/govote/internal/domain/rbac"
)

// Middleware — HTTP middleware.
type Middleware = func(http.Handler) http.Handler

// Server — HTTP-сервер сервиса.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с готовым роутером.
func New(cfg *config.Config, logger *slog.Logger, router http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.HTTPReadTimeout,
			WriteTimeout: cfg.HTTPWriteTimeout,
			IdleTimeout:  cfg.HTTPIdleTimeout,
		},
		logger: logger,
		cfg:    cfg,
	}
}

// baseRouter создаёт роутер с глобальными middleware и health endpoints.
// CorrelationID — первым: идентификатор нужен логам, метрикам и ошибкам.
func baseRouter(logger *slog.Logger, live, ready, metrics http.HandlerFunc) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.CorrelationID())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics проверяются Kubernetes напрямую, без JWT.
	router.Get("/health/live", live)
	router.Get("/health/ready", ready)
	router.Get("/metrics", metrics)
	return router
}

// NewTallyRouter собирает маршруты Tally Service.
// auth — JWT middleware администраторов, s2sSecret — общий секрет S2S.
func NewTallyRouter(h *handlers.TallyHandler, auth Middleware, s2sSecret string, logger *slog.Logger) http.Handler {
	router := baseRouter(logger, h.HealthLive, h.HealthReady, h.GetMetrics)

	// Бюллетень: аутентификация credential внутри обработчика.
	router.Post("/vote", h.SubmitBallot)

	router.Route("/s2s", func(r chi.Router) {
		r.Use(middleware.ServiceSecret(s2sSecret, logger))
		r.Post("/register-token", h.RegisterToken)
		r.Get("/results", h.S2SResults)
		r.Get("/election", h.S2SElection)
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(rbac.RoleReadonly))
			r.Get("/elections", h.ListElections)
			r.Get("/elections/{id}", h.GetElection)
			r.Get("/elections/{id}/status", h.GetElectionStatus)
			r.Get("/elections/{id}/results", h.GetElectionResults)
			r.Get("/elections/{id}/token-distribution", h.GetTokenDistribution)
			r.Get("/audit", h.ListAudit)
			r.Get("/audit/verify", h.VerifyAudit)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(rbac.RoleAdmin))
			r.Post("/elections", h.CreateElection)
			r.Patch("/elections/{id}", h.UpdateElection)
			r.Patch("/elections/{id}/metadata", h.UpdateElectionMetadata)
			r.Delete("/elections/{id}", h.Transition(lifecycle.ActionDelete))
			r.Post("/elections/{id}/open", h.OpenElection)
			for _, a := range []lifecycle.Action{
				lifecycle.ActionPublish, lifecycle.ActionPause, lifecycle.ActionResume,
				lifecycle.ActionClose, lifecycle.ActionArchive,
			} {
				r.Post("/elections/{id}/"+string(a), h.Transition(a))
			}
			r.Post("/elections/{id}/hide", h.SetHidden(true))
			r.Post("/elections/{id}/unhide", h.SetHidden(false))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(rbac.RoleSuperuser))
			r.Post("/elections/{id}/hard-delete", h.HardDeleteElection)
			r.Post("/elections/{id}/reset", h.ResetElection)
		})
	})

	return router
}

// NewCredentialRouter собирает маршруты Credential Service.
// Все endpoints участника требуют JWT; допуск к выдаче решает класс выборов.
func NewCredentialRouter(h *handlers.CredentialHandler, auth Middleware, logger *slog.Logger) http.Handler {
	router := baseRouter(logger, h.HealthLive, h.HealthReady, h.GetMetrics)

	router.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/election", h.GetElection)
		r.Post("/request-token", h.RequestToken)
		r.Get("/my-status", h.GetMyStatus)
		r.Get("/results", h.GetResults)
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.String("service", string(s.cfg.Service)),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
