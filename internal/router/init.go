package router

import (
	"github.com/letterflow/letterflow/internal/application"
	"github.com/letterflow/letterflow/internal/container"
	pginfra "github.com/letterflow/letterflow/internal/infrastructure/postgres"
	handlers "github.com/letterflow/letterflow/internal/interface/http"
	"github.com/letterflow/letterflow/internal/router/modules"
)

// InitModules constructs the feature modules from the container singletons
// and adds them to the registry. Called once during startup.
func InitModules(r *Registry) {
	cfg := container.GetConfig()
	logger := container.GetLogger()
	pool := container.GetPGPool()

	subRepo := pginfra.NewSubscriberRepository(pool)
	reportRepo := pginfra.NewDeliveryReportRepository(pool)

	subSvc := application.NewSubscriptionService(subRepo, container.GetEmailGateway(), logger, cfg)
	newsSvc := application.NewNewsletterService(
		subRepo,
		reportRepo,
		container.GetEmailGateway(),
		logger,
		cfg,
		container.GetRedis(),
		container.GetRabbitPub(),
		container.GetGCS(),
		container.GetES(),
	)

	r.Add(modules.NewSubscriptionModule(handlers.NewSubscriptionHandler(subSvc, logger)))
	r.Add(modules.NewNewsletterModule(handlers.NewNewsletterHandler(newsSvc, logger)))
	r.Add(modules.NewDebugModule())
}
