package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mx-space/realtime/internal/config"
	"github.com/mx-space/realtime/internal/middleware"
	"github.com/mx-space/realtime/internal/modules/gateway/acl"
	"github.com/mx-space/realtime/internal/modules/gateway/gateway"
	"github.com/mx-space/realtime/internal/pkg/broker"
	"github.com/mx-space/realtime/internal/pkg/jwt"
)

// App holds all application dependencies.
type App struct {
	cfg       *config.AppConfig
	router    *gin.Engine
	hub       *gateway.Hub
	transport *broker.Transport
	logger    *zap.Logger
	started   time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires verifier, broker transport, hub and routes, and starts the
// background loops.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	verifier, err := jwt.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Leeway)
	if err != nil {
		return nil, fmt.Errorf("token verifier: %w", err)
	}

	driver, err := newDriver(cfg)
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	transport := broker.NewTransport(driver, logger, broker.WithReconnectDelay(cfg.Broker.ReconnectDelay))

	hub := gateway.NewHub(verifier, acl.NewPolicy(cfg.Auth.PrivilegedRoles), transport, logger, gateway.Options{
		PingInterval:   cfg.Gateway.PingInterval,
		SendBuffer:     cfg.Gateway.SendBuffer,
		ReadLimit:      cfg.Gateway.ReadLimit,
		WriteTimeout:   cfg.Gateway.WriteTimeout,
		MaxConnections: cfg.Gateway.MaxConnections,
		ErrorFrames:    cfg.Gateway.ErrorFrames,
	})
	allowOrigin := originMatcher(cfg)
	hub.SetCheckOrigin(func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowOrigin(origin)
	})

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		AllowOriginFunc:  allowOrigin,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:       cfg,
		router:    router,
		hub:       hub,
		transport: transport,
		logger:    logger,
		started:   time.Now(),
		cancel:    cancel,
	}
	a.registerRoutes()

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		transport.Run(ctx, hub.Relay)
	}()
	go func() {
		defer a.wg.Done()
		hub.Run(ctx)
	}()

	logger.Info("gateway ready",
		zap.String("path", cfg.Gateway.Path),
		zap.String("broker", cfg.Broker.Driver),
		zap.String("exchange", cfg.Broker.Exchange),
		zap.Duration("ping_interval", cfg.Gateway.PingInterval),
	)
	return a, nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return a.cfg.Addr() }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops the sweep and the broker loop, closes every socket and
// releases the broker connections.
func (a *App) Shutdown() {
	a.cancel()
	a.wg.Wait()
	if err := a.transport.Close(); err != nil {
		a.logger.Warn("broker close failed", zap.Error(err))
	}
}
