package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/letterflow/letterflow/config"
	"github.com/letterflow/letterflow/internal/application"
	"github.com/letterflow/letterflow/internal/container"
	"github.com/letterflow/letterflow/internal/domain/gateway"
	pginfra "github.com/letterflow/letterflow/internal/infrastructure/postgres"
	"github.com/letterflow/letterflow/internal/interface/middleware"
	"github.com/letterflow/letterflow/internal/router"
	"github.com/letterflow/letterflow/pkg/helpers"
	"github.com/letterflow/letterflow/pkg/mailer"
	"github.com/letterflow/letterflow/pkg/validation"
)

func main() {
	_ = godotenv.Load() // load .env if present

	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName, cfg.Env)
	gin.SetMode(cfg.GinMode)
	validation.Init()

	ctx := context.Background()

	// Initialize Postgres pool
	pool, err := pginfra.NewPool(ctx, cfg.PostgresDSN(), cfg.DBMaxConns, cfg.DBMinConns, cfg.DBMaxConnLife)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := pginfra.RunMigrations(cfg.PostgresDSN(), cfg.MigrationsDir, logger); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	// Redis backs rate limiting and the report cache
	rdb := helpers.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer func() { _ = rdb.Close() }()

	// GCS archives published issues. Archiving is best effort, so a
	// missing client only disables it.
	gcsClient, err := helpers.NewGCSClient(ctx, cfg.GCSCredentialsJSONPath)
	if err != nil {
		logger.Warnf("gcs unavailable, issue archiving disabled: %v", err)
		gcsClient = nil
	} else {
		defer func() { _ = gcsClient.Close() }()
	}

	// Elasticsearch indexes delivery reports for search. Optional.
	esClient, err := helpers.NewESClient(cfg.ESAddrs(), cfg.ElasticsearchUser, cfg.ElasticsearchPass)
	if err != nil {
		logger.Warnf("elasticsearch unavailable, report search disabled: %v", err)
		esClient = nil
	} else if err := helpers.EnsureESIndex(ctx, esClient, cfg.ESReportsIndex, application.ReportIndexMapping); err != nil {
		logger.Warnf("es index bootstrap failed: %v", err)
	}

	// RabbitMQ carries retry jobs for failed sends. Optional.
	var rabbitPub *helpers.RabbitPublisher
	if cfg.RabbitMQURL != "" {
		rabbitPub, err = helpers.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQRetryQueue)
		if err != nil {
			logger.Warnf("rabbitmq unavailable, send retries disabled: %v", err)
			rabbitPub = nil
		} else {
			defer rabbitPub.Close()
		}
	}

	gw := buildEmailGateway(cfg, logger)

	// Provide infra singletons to container for registry auto-wiring
	container.SetConfig(cfg)
	container.SetLogger(logger)
	container.SetPGPool(pool)
	container.SetRedis(rdb)
	container.SetGCS(gcsClient)
	container.SetES(esClient)
	container.SetRabbitPub(rabbitPub)
	container.SetEmailGateway(gw)

	// Gin engine and global middleware
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.RealIP())
	corsCfg := cors.Config{
		AllowOrigins:     cfg.CORSOrigins(),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	r.Use(cors.New(corsCfg))
	if cfg.Env == "development" || cfg.HTTPLogEnabled {
		r.Use(gin.Logger())
	}

	// Registry: auto-register modules using container
	reg := router.NewRegistry(r)
	router.InitModules(reg)
	reg.RegisterAll()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Infof("server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %s\n", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Fatalf("server forced to shutdown: %v", err)
	}
	logger.Info("server exited properly")
}

// buildEmailGateway picks the real Mailgun sender or the logging stub.
// MAIL_SEND_ENABLED=false keeps local environments from emailing anyone.
func buildEmailGateway(cfg *config.Config, logger *logrus.Logger) gateway.EmailGateway {
	if !cfg.MailSendEnabled {
		logger.Info("mail sending disabled, confirmation and issue emails are logged only")
		return &mailer.Disabled{Logger: logger}
	}
	if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" || cfg.MailgunSender == "" {
		logger.Fatal("MAIL_SEND_ENABLED=true but Mailgun is not configured")
	}
	return mailer.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender, cfg.DeliverySendTimeout)
}
