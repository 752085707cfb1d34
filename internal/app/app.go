// Package app assembles the reminder pipeline from configuration. Both
// binaries share it so the server and the CLI dispatch identically.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/channel"
	"github.com/notifyhub/reminder-dispatch/internal/config"
	"github.com/notifyhub/reminder-dispatch/internal/deliverylog"
	"github.com/notifyhub/reminder-dispatch/internal/dispatch"
	"github.com/notifyhub/reminder-dispatch/internal/enqueue"
	"github.com/notifyhub/reminder-dispatch/internal/metrics"
	"github.com/notifyhub/reminder-dispatch/internal/ratelimiter"
	"github.com/notifyhub/reminder-dispatch/internal/repository"
	"github.com/notifyhub/reminder-dispatch/internal/rules"
	"github.com/notifyhub/reminder-dispatch/internal/service"
	"github.com/notifyhub/reminder-dispatch/internal/vault"
)

// App holds the wired components.
type App struct {
	Service *service.ReminderService
	Queue   repository.QueueRepository
}

// New builds the pipeline on top of an open pool. m may be nil, in which
// case no metrics are recorded.
func New(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger, m *metrics.Metrics) (*App, error) {
	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	queue := repository.NewPgQueueRepository(pool)
	appointments := repository.NewPgAppointmentRepository(pool)
	logs := repository.NewPgDeliveryLogRepository(pool)
	resolver := rules.NewResolver(repository.NewPgRuleRepository(pool))

	registry := channel.NewRegistry(channel.Endpoints{
		ClickatellURL: cfg.ClickatellURL,
		TwilioBaseURL: cfg.TwilioBaseURL,
		MetaGraphURL:  cfg.MetaGraphURL,
	}, cfg.ProviderTimeout, ratelimiter.New(cfg.RateLimit))

	var hooks dispatch.Hooks
	if m != nil {
		hooks.OnOutcome, hooks.OnSend = m.DispatchHooks()
	}

	engine := dispatch.New(dispatch.Deps{
		Queue:        queue,
		Appointments: appointments,
		Integrations: repository.NewPgIntegrationRepository(pool),
		OptOuts:      repository.NewPgOptOutRepository(pool),
		Rules:        resolver,
		Vault:        v,
		Adapters:     registry,
		Renderer:     channel.NewRenderer(cfg.Location(), cfg.BusinessName),
		Recorder:     deliverylog.NewRecorder(logs, logger),
	}, dispatch.Policy{
		ClaimLease:       cfg.ClaimLease,
		ChannelRunLimits: cfg.ChannelRunLimits,
		MaxAttempts:      cfg.RetryMaxAttempts,
		Backoff:          cfg.RetryBackoff,
	}, logger, hooks)

	svc := service.NewReminderService(
		enqueue.New(queue, appointments, resolver, logger),
		engine,
		deliverylog.NewExporter(logs, cfg.ExportDir, logger),
		deliverylog.NewPurger(logs, logger),
		queue,
		logger,
	)

	return &App{Service: svc, Queue: queue}, nil
}
