package main

import (
	"flag"

	"restock-monitor/internal/app"
	"restock-monitor/internal/components/chrono"
	"restock-monitor/internal/configutil"
	"restock-monitor/internal/httpapi"
	"restock-monitor/internal/serviceutil"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	configPath := flag.String("config", "config.json5", "Path to the configuration file.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	tel := InitTelemetry(ctx, *verbose)

	cfg, err := configutil.ReadConfig[app.Config](*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if *verbose && cfg.Fetcher.DumpDir == "" {
		cfg.Fetcher.DumpDir = ".dev/pages"
	}

	monitor, err := app.New(ctx, cfg, tel)
	if err != nil {
		serviceutil.Fatal("init monitor", err)
	}
	defer monitor.Close()

	cron := chrono.NewStandardCron(tel)
	defer func() {
		<-cron.Stop().Done()
	}()
	err = monitor.Monitor.Start(ctx, cron)
	if err != nil {
		serviceutil.Fatal("start monitor", err)
	}

	api := httpapi.New(monitor.Service, tel)
	err = serviceutil.StartHttpServer(ctx, cfg.Port, api.Handler(cfg.AdminToken))
	if err != nil {
		serviceutil.Fatal("serve http", err)
	}
}
