// Package loadstats aggregates client-side measurements from many simulated
// ChatNest users and prints a summary with percentile distributions.
package loadstats

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector is safe for concurrent use by every simulated user goroutine.
type Collector struct {
	mu              sync.Mutex
	authLatencies   []time.Duration
	dialLatencies   []time.Duration
	ackLatencies    []time.Duration
	fanoutLatencies []time.Duration
	connections     int
	errors          map[string]int
	rateLimited     int
	startTime       time.Time
	scraper         *Scraper
}

// NewCollector creates a Collector whose clock starts now.
func NewCollector() *Collector {
	return &Collector{
		errors:    make(map[string]int),
		startTime: time.Now(),
	}
}

// SetScraper attaches a server metrics scraper whose summary is appended to
// Report.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddAuth records the time a sign-up plus sign-in round took.
func (c *Collector) AddAuth(d time.Duration) {
	c.mu.Lock()
	c.authLatencies = append(c.authLatencies, d)
	c.mu.Unlock()
}

// AddConnect records an established WebSocket, measured until the ready frame.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.dialLatencies = append(c.dialLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddAck records the time between sending a message and its sent frame.
func (c *Collector) AddAck(d time.Duration) {
	c.mu.Lock()
	c.ackLatencies = append(c.ackLatencies, d)
	c.mu.Unlock()
}

// AddFanout records the time between sending a message and receiving it back
// as a broadcast message frame.
func (c *Collector) AddFanout(d time.Duration) {
	c.mu.Lock()
	c.fanoutLatencies = append(c.fanoutLatencies, d)
	c.mu.Unlock()
}

// AddRateLimited counts a rate_limited frame.
func (c *Collector) AddRateLimited() {
	c.mu.Lock()
	c.rateLimited++
	c.mu.Unlock()
}

// AddError counts a failure under the given phase name.
func (c *Collector) AddError(phase string) {
	c.mu.Lock()
	c.errors[phase]++
	c.mu.Unlock()
}

// ConnectionCount returns the number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the number of recorded errors across all phases.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.errors {
		n += v
	}
	return n
}

// Report writes the summary to w.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, v := range c.errors {
		total += v
	}

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:      %s\n", time.Since(c.startTime).Round(time.Second))
	fmt.Fprintf(w, "Connections:   %d\n", c.connections)
	fmt.Fprintf(w, "Rate limited:  %d\n", c.rateLimited)
	fmt.Fprintf(w, "Errors:        %d\n", total)

	phases := make([]string, 0, len(c.errors))
	for p := range c.errors {
		phases = append(phases, p)
	}
	sort.Strings(phases)
	for _, p := range phases {
		fmt.Fprintf(w, "  %-12s %d\n", p+":", c.errors[p])
	}

	sections := []struct {
		title   string
		samples []time.Duration
	}{
		{"Auth Latency", c.authLatencies},
		{"Connect Latency", c.dialLatencies},
		{"Send Ack Latency", c.ackLatencies},
		{"Broadcast Latency", c.fanoutLatencies},
	}
	for _, s := range sections {
		if len(s.samples) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", s.title)
		fmt.Fprintln(w, " ", Summarize(s.samples))
	}

	if c.scraper != nil {
		c.scraper.Report(w)
	}
	fmt.Fprintln(w)
}

// Summary is a percentile breakdown of a latency sample.
type Summary struct {
	N   int
	Avg time.Duration
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration
}

// Summarize sorts a copy of samples and computes its percentiles. The zero
// Summary is returned for an empty sample.
func Summarize(samples []time.Duration) Summary {
	n := len(samples)
	if n == 0 {
		return Summary{}
	}
	sorted := make([]time.Duration, n)
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: sorted[n/2],
		P95: sorted[rank(n, 0.95)],
		P99: sorted[rank(n, 0.99)],
		Max: sorted[n-1],
	}
}

func rank(n int, q float64) int {
	return int(math.Ceil(float64(n)*q)) - 1
}

func (s Summary) String() string {
	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		s.Avg.Round(time.Microsecond),
		s.P50.Round(time.Microsecond),
		s.P95.Round(time.Microsecond),
		s.P99.Round(time.Microsecond),
		s.Max.Round(time.Microsecond),
		s.N,
	)
}
