package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chatnest/chat-app/internal/loadstats"
	"github.com/chatnest/chat-app/internal/protocol"
)

// runChat connects users and has each post to the shared room at a fixed
// interval. Ack latency is send to sent frame; broadcast latency is send to
// the same text arriving back as a message frame.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "ChatNest server base URL")
	users := fs.Int("users", 50, "Number of simulated users")
	ramp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	duration := fs.Duration("duration", 30*time.Second, "How long users keep posting")
	msgInterval := fs.Duration("msg-interval", 3*time.Second, "Interval between messages per user")
	msgSize := fs.Int("msg-size", 64, "Message size in bytes")
	concurrency := fs.Int("concurrency", 20, "Maximum simultaneous connection attempts")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint")
	fs.Parse(args)

	fmt.Printf("Chat test: %d users against %s (ramp=%s, duration=%s, interval=%s, msg-size=%d)\n",
		*users, *server, *ramp, *duration, *msgInterval, *msgSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := loadstats.NewCollector()
	scraper := loadstats.NewScraper(*metricsURL, 2*time.Second)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	fmt.Println("\n--- Phase 1: Connect users ---")
	connected := rampUp(ctx, *server, newRunID(), *users, *ramp, *concurrency, collector)
	fmt.Printf("Connected %d/%d users (%d errors)\n", len(connected), *users, collector.ErrorCount())

	if ctx.Err() == nil && len(connected) > 0 {
		fmt.Println("\n--- Phase 2: Post messages ---")
		chatCtx, cancel := context.WithTimeout(ctx, *duration)
		var wg sync.WaitGroup
		for _, u := range connected {
			wg.Add(1)
			go func(u *vuser) {
				defer wg.Done()
				u.chat(chatCtx, *msgInterval, *msgSize, collector)
			}(u)
		}
		wg.Wait()
		cancel()
	}

	fmt.Println("\n--- Phase 3: Teardown ---")
	closeAll(connected)
	scraper.Stop()
	collector.Report(os.Stdout)
}

// chat posts one message per interval, waiting for the previous one to be
// acknowledged first, and reads every frame the server pushes meanwhile.
func (u *vuser) chat(ctx context.Context, interval time.Duration, size int, c *loadstats.Collector) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		seq      int
		inFlight time.Time
		pending  = make(map[string]time.Time)
	)

	for {
		select {
		case <-ctx.Done():
			return

		case <-u.conn.Done():
			c.AddError("dropped")
			return

		case <-ticker.C:
			if !inFlight.IsZero() {
				continue
			}
			seq++
			text := payload(u.name, seq, size)
			now := time.Now()
			if err := u.conn.SendMessage(text); err != nil {
				c.AddError("send")
				continue
			}
			inFlight = now
			pending[text] = now

		case f, ok := <-u.conn.Frames():
			if !ok {
				c.AddError("dropped")
				return
			}
			switch f.Type {
			case protocol.TypeSent:
				if !inFlight.IsZero() {
					c.AddAck(time.Since(inFlight))
					inFlight = time.Time{}
				}
			case protocol.TypeSendFailed:
				c.AddError("send_failed")
				inFlight = time.Time{}
			case protocol.TypeRateLimited:
				c.AddRateLimited()
				inFlight = time.Time{}
			case protocol.TypeError:
				c.AddError("protocol")
				inFlight = time.Time{}
			case protocol.TypeMessage:
				var m protocol.ServerChatMsg
				if err := f.Decode(&m); err != nil {
					c.AddError("decode")
					continue
				}
				if at, ok := pending[m.Message.Content]; ok {
					c.AddFanout(time.Since(at))
					delete(pending, m.Message.Content)
				}
			}
		}
	}
}

func payload(name string, seq, size int) string {
	head := fmt.Sprintf("%s #%d ", name, seq)
	if len(head) >= size {
		return strings.TrimSpace(head)
	}
	return head + strings.Repeat("x", size-len(head))
}

