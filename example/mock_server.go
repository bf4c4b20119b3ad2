package main

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/jpalmerr/heartbridge/internal/hyperate/hyperatetest"
)

// StartMockProvider serves a fake widget site on addr and pushes a drifting
// heart rate to every connected socket every interval.
// Call this in a goroutine before starting the bridge.
func StartMockProvider(ctx context.Context, addr string, interval time.Duration) {
	provider := hyperatetest.NewProvider()
	srv := &http.Server{Addr: addr, Handler: provider.Handler()}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go pushHeartRates(ctx, provider, interval)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("mock provider error", "error", err)
	}
}

// pushHeartRates random-walks a resting heart rate between 55 and 140.
func pushHeartRates(ctx context.Context, provider *hyperatetest.Provider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	bpm := 72
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bpm += rand.Intn(9) - 4
			bpm = min(max(bpm, 55), 140)
			provider.PushHeartRate(bpm)
		}
	}
}
