package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/sudo-init-do/skillhub/internal/cache"
	"github.com/sudo-init-do/skillhub/internal/catalog"
	"github.com/sudo-init-do/skillhub/internal/config"
	"github.com/sudo-init-do/skillhub/internal/db"
	"github.com/sudo-init-do/skillhub/internal/ledger"
	"github.com/sudo-init-do/skillhub/internal/metrics"
	mware "github.com/sudo-init-do/skillhub/internal/middleware"
	"github.com/sudo-init-do/skillhub/internal/notify"
	"github.com/sudo-init-do/skillhub/internal/realtime"
	"github.com/sudo-init-do/skillhub/internal/request"
	"github.com/sudo-init-do/skillhub/internal/sweeper"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database unavailable", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Error("schema setup failed", "err", err)
		os.Exit(1)
	}
	log.Info("database ready")

	var inv cache.Invalidator = cache.Noop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		inv = cache.NewRedis(rdb, log)
		log.Info("cache invalidation enabled", "addr", cfg.RedisAddr)
	}

	registry := realtime.NewRegistry(cfg.HeartbeatInterval, log)
	dispatcher := notify.NewDispatcher(notify.NewPgStore(pool), registry, log)

	ledgerSvc := ledger.NewService(ledger.NewPgStore(pool), inv, log)
	requestSvc := request.NewService(request.NewPgStore(pool), catalog.NewPgStore(pool),
		ledgerSvc, dispatcher, inv, log)
	sweep := sweeper.New(sweeper.NewPgStore(pool), dispatcher, inv, log, cfg.ExpiryWarnDays)

	ledgerH := ledger.NewHandlers(ledgerSvc)
	requestH := request.NewHandlers(requestSvc)
	notifyH := notify.NewHandlers(dispatcher)
	wsH := realtime.NewHandler(registry)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("")
	api.Use(mware.JWT(cfg.JWTSecret))

	api.GET("/credits", ledgerH.Credits)
	api.POST("/subscription/purchase", ledgerH.Purchase, mware.RequireRoles("client"))

	api.POST("/requests", requestH.Create, mware.RequireRoles("client"))
	api.GET("/requests/open", requestH.ListOpen, mware.RequireRoles("provider"))
	api.GET("/requests/me", requestH.ListMine)
	api.GET("/requests/:id", requestH.Get)
	api.GET("/requests/:id/cost-breakdown", requestH.CostBreakdown)
	api.POST("/requests/:id/claim", requestH.Claim, mware.RequireRoles("provider"))
	api.POST("/requests/:id/start", requestH.Start, mware.RequireRoles("provider"))
	api.POST("/requests/:id/deliver", requestH.Deliver, mware.RequireRoles("provider"))
	api.POST("/requests/:id/complete", requestH.Complete, mware.RequireRoles("client"))
	api.POST("/requests/:id/revision", requestH.Revision, mware.RequireRoles("client"))
	api.POST("/requests/:id/cancel", requestH.Cancel, mware.RequireRoles("client"))
	api.POST("/requests/:id/rate", requestH.Rate, mware.RequireRoles("client"))

	api.GET("/notifications", notifyH.List)
	api.GET("/notifications/unread-count", notifyH.UnreadCount)
	api.POST("/notifications/:id/read", notifyH.MarkRead)
	api.POST("/notifications/read-all", notifyH.MarkAllRead)

	api.GET("/ws", wsH.Serve)

	admin := e.Group("/admin")
	admin.Use(mware.JWT(cfg.JWTSecret))
	admin.Use(mware.AdminOnly)
	admin.POST("/requests/:id/cancel", requestH.Cancel)
	admin.POST("/sweep", sweeper.TriggerHandler(sweep))

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			stop()
		}
	}()
	log.Info("server started", "port", cfg.Port)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
