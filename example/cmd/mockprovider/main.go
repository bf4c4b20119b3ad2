// Standalone mock provider for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockprovider
//
// Then in another terminal:
//
//	go run ./cmd/heartbridge serve -c example/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/heartbridge/internal/hyperate/hyperatetest"
)

func main() {
	addr := flag.String("addr", ":9998", "listen address")
	interval := flag.Duration("interval", 2*time.Second, "time between heart-rate pushes")
	flag.Parse()

	fmt.Printf("Mock provider starting on %s\n", *addr)
	fmt.Println("Any session id is accepted; heart rate drifts between 55 and 140")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := hyperatetest.NewProvider()
	srv := &http.Server{Addr: *addr, Handler: provider.Handler()}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		bpm := 72
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				bpm = min(max(bpm+rand.Intn(9)-4, 55), 140)
				provider.PushHeartRate(bpm)
				slog.Info("pushed heart rate", "bpm", bpm, "sockets", provider.OpenConnections())
			}
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
