package main

import (
	"context"
	"errors"
	"fmt"
	"log/syslog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"

	"cdm-client/internal/agent"
	"cdm-client/internal/config"
	apphttp "cdm-client/internal/http"
	"cdm-client/internal/lock"
	"cdm-client/internal/remote"
	"cdm-client/internal/repository/sqlite"
	"cdm-client/internal/torrentclient"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	configureLogger(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Fatal(err)
	}
	logger.Info("bye")
}

// run owns every resource of the agent so their deferred cleanup runs on all exits.
func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	if cfg.Server.Host == "" {
		return errors.New("server host is required")
	}
	clientType, err := torrentclient.ParseType(cfg.Client.Type)
	if err != nil {
		return fmt.Errorf("client type: %w", err)
	}

	dbLock, err := lock.Acquire(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("lock database: %w", err)
	}
	defer dbLock.Release()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	mappings := sqlite.NewMappingRepository(db)
	if err := mappings.Init(ctx); err != nil {
		return fmt.Errorf("init mapping repository: %w", err)
	}

	client, err := torrentclient.New(ctx, clientType, torrentclient.Options{
		Host:     cfg.Client.Host,
		Port:     cfg.Client.Port,
		Username: cfg.Client.Username,
		Password: cfg.Client.Password,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("connect %s: %w", clientType, err)
	}

	server := remote.NewClient(cfg.Server.Host, cfg.Server.APIKey, cfg.Server.Timeout)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	agent.Register(registry)

	a := agent.New(agent.Config{
		Interval: cfg.Agent.Interval,
		Logger:   logger,
	}, client, mappings, server)

	if cfg.HTTP.Addr != "" {
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(gin.Recovery())
		apphttp.NewHandler(a, mappings, registry, cfg.Server.APIKey).RegisterRoutes(router)

		srv := &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: router,
		}
		go func() {
			logger.Infof("diagnostics listening on %s", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("http server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("http shutdown: %v", err)
			}
		}()
	}

	logger.Infof("bridging %s at %s with %s", clientType, cfg.Client.Host, cfg.Server.Host)
	a.Run(ctx)
	logger.Info("shutting down...")
	return nil
}

func configureLogger(logger *logrus.Logger, cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if !cfg.Log.Syslog {
		return
	}
	hook, err := lsyslog.NewSyslogHook("", "", syslog.LOG_INFO|syslog.LOG_DAEMON, "cdm-client")
	if err != nil {
		logger.Warnf("syslog unavailable: %v", err)
		return
	}
	logger.AddHook(hook)
}
