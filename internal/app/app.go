package app

import (
	"context"
	"database/sql"

	"restock-monitor/internal/components/chrono"
	"restock-monitor/internal/components/telemetry"
	"restock-monitor/internal/fetcher"
	"restock-monitor/internal/messaging"
	"restock-monitor/internal/notifier"
	"restock-monitor/internal/registry"
	"restock-monitor/internal/scheduler"
	"restock-monitor/internal/service"
)

const report_app_no_channel = "app.no-messaging-channel"

// App is the monitoring pipeline wired from a Config.
type App struct {
	DB       *sql.DB
	Registry registry.Registry
	Monitor  scheduler.Monitor
	Service  service.Service

	render *fetcher.RenderFetcher
}

// New opens the database and builds every component of the pipeline. Close must
// be called once the App is no longer used.
func New(ctx context.Context, config Config, tel telemetry.API) (App, error) {
	s, err := config.settings()
	if err != nil {
		return App{}, err
	}

	conn, err := config.Database.Open(ctx)
	if err != nil {
		return App{}, err
	}

	clock := chrono.NewStandardTime()
	reg := registry.New(conn)

	limiter := fetcher.NewHostLimiter(s.hostDelay)
	static := fetcher.NewStaticFetcher(s.fetchTimeout, limiter, tel)
	if config.Fetcher.DumpDir != "" {
		output, err := telemetry.NewFilesystemOutput(config.Fetcher.DumpDir, tel)
		if err != nil {
			conn.Close()
			return App{}, err
		}
		static.DumpTo(output)
	}
	var (
		dynamic fetcher.Fetcher
		render  *fetcher.RenderFetcher
	)
	if !config.Fetcher.DisableRendering {
		render = fetcher.NewRenderFetcher(fetcher.RenderOptions{
			Timeout:     s.fetchTimeout,
			SettleDelay: s.settleDelay,
			MaxRenders:  s.maxRenders,
			ExecPath:    config.Fetcher.ChromePath,
		}, limiter, tel)
		dynamic = render
	}

	var webhook, email messaging.Sender
	if config.Webhook.Url != "" {
		webhook = messaging.NewWebhookSender(config.Webhook, s.deliveryTimeout, tel)
	}
	if config.Smtp.Server != "" {
		email = messaging.NewEmailSender(config.Smtp)
	}
	if webhook == nil && email == nil {
		tel.ReportWarning(report_app_no_channel)
	}

	notif := notifier.New(
		reg,
		messaging.NewRouter(webhook, email),
		clock,
		tel,
		notifier.Config{
			DeliveryTimeout:  s.deliveryTimeout,
			NotifyOutOfStock: config.Monitor.NotifyOutOfStock,
		},
	)
	monitor := scheduler.New(
		reg,
		fetcher.NewRouter(static, dynamic),
		notif,
		clock,
		tel,
		scheduler.Config{
			Interval:             s.interval,
			Workers:              s.workers,
			CycleDeadline:        s.cycleDeadline,
			RestockConfirmations: s.restockConfirmations,
			RunOnStart:           config.Monitor.RunOnStart,
		},
	)
	svc := service.New(
		reg,
		monitor,
		service.WithTimeAPI(clock),
		service.WithTelemetryAPI(tel),
	)

	return App{
		DB:       conn,
		Registry: reg,
		Monitor:  monitor,
		Service:  svc,
		render:   render,
	}, nil
}

// Close waits for running cycles, then shuts down the headless browser, if one
// was launched, and the database.
func (a App) Close() error {
	a.Monitor.Wait()
	if a.render != nil {
		a.render.Close()
	}
	return a.DB.Close()
}
