package loadstats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type snapshot struct {
	at          time.Time
	connections float64
	feeds       float64
	messages    float64
	relays      float64
	latencySum  float64
	latencyCnt  float64
	relaySum    float64
	relayCnt    float64
}

// Scraper polls the chat server's /metrics endpoint during a run.
type Scraper struct {
	metricsURL string
	interval   time.Duration
	client     *http.Client

	mu        sync.Mutex
	snapshots []snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScraper creates a Scraper for metricsURL.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client:     &http.Client{Timeout: 5 * time.Second},
		done:       make(chan struct{}),
	}
}

// Start takes a snapshot immediately and then one per interval until ctx is
// cancelled or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrapeOnce(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce(context.Background())
				return
			case <-ticker.C:
				s.scrapeOnce(ctx)
			}
		}
	}()
}

// Stop ends scraping and waits for the final snapshot.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Snapshots returns how many scrapes succeeded.
func (s *Scraper) Snapshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func (s *Scraper) scrapeOnce(ctx context.Context) {
	snap, err := s.fetch(ctx)
	if err != nil {
		// Server may not be up yet.
		return
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *Scraper) fetch(ctx context.Context) (snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.metricsURL, nil)
	if err != nil {
		return snapshot{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snapshot{}, fmt.Errorf("loadstats: scrape: status %d", resp.StatusCode)
	}
	return parseSnapshot(resp.Body)
}

func parseSnapshot(r io.Reader) (snapshot, error) {
	snap := snapshot{at: time.Now()}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		name, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}
		switch name {
		case "chatnest_connections_total":
			snap.connections = value
		case "chatnest_active_feeds":
			snap.feeds = value
		case "chatnest_messages_total":
			// One line per status label.
			snap.messages += value
		case "chatnest_relay_invocations_total":
			snap.relays += value
		case "chatnest_message_latency_seconds_sum":
			snap.latencySum = value
		case "chatnest_message_latency_seconds_count":
			snap.latencyCnt = value
		case "chatnest_relay_latency_seconds_sum":
			snap.relaySum = value
		case "chatnest_relay_latency_seconds_count":
			snap.relayCnt = value
		}
	}
	return snap, scanner.Err()
}

// parseMetricLine splits a text exposition line into its bare metric name and
// value, dropping any label set.
func parseMetricLine(line string) (string, float64, bool) {
	var name, rest string
	if i := strings.IndexByte(line, '{'); i != -1 {
		j := strings.IndexByte(line[i:], '}')
		if j == -1 {
			return "", 0, false
		}
		name, rest = line[:i], line[i+j+1:]
	} else {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return "", 0, false
		}
		name, rest = fields[0], strings.Join(fields[1:], " ")
	}

	fields := strings.Fields(rest)
	if name == "" || len(fields) == 0 {
		return "", 0, false
	}
	// An optional timestamp may follow the value.
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}

// Report writes initial, final, delta and peak values for each tracked metric.
func (s *Scraper) Report(w io.Writer) {
	s.mu.Lock()
	snaps := make([]snapshot, len(s.snapshots))
	copy(snaps, s.snapshots)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Fprintln(w, "\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]

	fmt.Fprintln(w, "\n--- Server Metrics (Prometheus) ---")
	fmt.Fprintf(w, "  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.at.Sub(first.at).Round(time.Second))

	rows := []struct {
		label string
		get   func(snapshot) float64
	}{
		{"Connections", func(s snapshot) float64 { return s.connections }},
		{"Active Feeds", func(s snapshot) float64 { return s.feeds }},
		{"Messages Total", func(s snapshot) float64 { return s.messages }},
		{"Relay Calls", func(s snapshot) float64 { return s.relays }},
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Fprintf(w, "  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, r := range rows {
		initial, final := r.get(first), r.get(last)
		fmt.Fprintf(w, "  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			r.label, initial, final, final-initial, peak(snaps, r.get))
	}

	fmt.Fprintln(w)
	histogramAvg(w, "Store Latency", last.latencySum-first.latencySum, last.latencyCnt-first.latencyCnt)
	histogramAvg(w, "Relay Latency", last.relaySum-first.relaySum, last.relayCnt-first.relayCnt)
}

func histogramAvg(w io.Writer, label string, sum, count float64) {
	if count <= 0 {
		fmt.Fprintf(w, "  %-16s avg: N/A  (no observations)\n", label)
		return
	}
	fmt.Fprintf(w, "  %-16s avg: %.4fs  (%.0f observations)\n", label, sum/count, count)
}

func peak(snaps []snapshot, get func(snapshot) float64) float64 {
	p := math.Inf(-1)
	for _, s := range snaps {
		if v := get(s); v > p {
			p = v
		}
	}
	return p
}
