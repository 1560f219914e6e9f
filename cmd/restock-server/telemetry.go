package main

import (
	"context"
	"log/slog"

	"restock-monitor/internal/components/telemetry"
	"restock-monitor/internal/serviceutil"
)

func InitTelemetry(ctx context.Context, verbose bool) telemetry.API {
	telemetry.InitSlog(verbose)

	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	providers, err := telemetry.SetupFromEnv(ctx, "restock-server")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		providers.Shutdown(context.Background())
	}()

	tel := telemetry.NewOtelAPI(telemetry.SlogAPI{})
	telemetry.InstrumentPerfStats(ctx, tel)
	return tel
}
