package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"pagebundle/cmd/pagebundle/commands"
	"pagebundle/internal/components/telemetry"
	"pagebundle/pkg/serviceutil"
)

func main() {
	telemetry.InitSlog(false)
	ctx := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "pagebundle")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to setup telemetry", "err", err)
	}

	err = commands.ExecuteContext(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := tel.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Warn("failed to flush telemetry", "err", shutdownErr)
	}
	if err != nil {
		serviceutil.Fatal("pagebundle failed", err)
	}
}
