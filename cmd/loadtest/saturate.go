package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatnest/chat-app/internal/loadstats"
)

// runSaturate opens authenticated connections up to the requested count and
// holds them while counting drops, to find where the server starts refusing.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "ChatNest server base URL")
	connections := fs.Int("connections", 500, "Number of users to connect")
	ramp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after ramp-up")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d users against %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, *server, *ramp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := loadstats.NewCollector()
	scraper := loadstats.NewScraper(*metricsURL, 2*time.Second)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	fmt.Println("\n--- Ramp-up phase ---")
	rampStart := time.Now()
	users := rampUp(ctx, *server, newRunID(), *connections, *ramp, *concurrency, collector)
	fmt.Printf("\nRamp-up complete: %d/%d connections in %s (%d errors)\n",
		len(users), *connections, time.Since(rampStart).Round(time.Millisecond), collector.ErrorCount())

	if ctx.Err() == nil {
		fmt.Println("\n--- Hold phase ---")
		fmt.Printf("Holding %d connections for %s...\n", len(users), *hold)

		holdTimer := time.NewTimer(*hold)
		status := time.NewTicker(5 * time.Second)
	holdLoop:
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nInterrupted during hold phase.")
				break holdLoop
			case <-holdTimer.C:
				fmt.Println("\nHold period complete.")
				break holdLoop
			case <-status.C:
				alive := 0
				for _, u := range users {
					select {
					case <-u.conn.Done():
					default:
						alive++
					}
				}
				fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n", alive, len(users), len(users)-alive)
			}
		}
		holdTimer.Stop()
		status.Stop()
	}

	for _, u := range users {
		select {
		case <-u.conn.Done():
			collector.AddError("dropped")
		default:
		}
	}

	fmt.Println("\n--- Teardown ---")
	closeAll(users)
	scraper.Stop()
	collector.Report(os.Stdout)
}
