package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/heartbridge"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start mock provider (see mock_server.go)
	go StartMockProvider(ctx, ":9998", 2*time.Second)
	time.Sleep(100 * time.Millisecond)

	hb, err := heartbridge.New(
		heartbridge.WithBaseURL("http://localhost:9998"),
		heartbridge.WithSessionID("demo"),
		heartbridge.WithFormatting(heartbridge.FormattingOptions{
			ShowTrendArrow:       true,
			Use24HourClock:       true,
			TextTemplate:         "❤ {heartRate} bpm @ {clock}",
			ChannelOutputEnabled: true,
		}),
		heartbridge.WithOSCTarget("localhost", 9000),
		heartbridge.WithPort(8080),
		heartbridge.WithEventCallback(func(ev heartbridge.Event) {
			switch ev.Kind {
			case heartbridge.EventHeartRate:
				fmt.Printf("  %s  %s\n", ev.At.Format("15:04:05"), ev.Text)
			case heartbridge.EventError:
				fmt.Printf("  error: %s\n", ev.Message)
			default:
				fmt.Printf("  %s\n", ev.Kind)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create bridge", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   heartbridge demo                                    ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Mock provider   http://localhost:9998               ║")
	fmt.Println("  ║   OSC target      localhost:9000                      ║")
	fmt.Println("  ║   Control API     http://localhost:8080/api/status    ║")
	fmt.Println("  ║   Metrics         http://localhost:8080/metrics       ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	if err := hb.Start(ctx); err != nil {
		slog.Error("bridge error", "error", err)
		os.Exit(1)
	}
}
