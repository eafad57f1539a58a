package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatnest/chat-app/internal/client"
	"github.com/chatnest/chat-app/internal/loadstats"
	"github.com/chatnest/chat-app/internal/protocol"
	"github.com/oklog/ulid/v2"
)

const password = "loadtest-password"

// vuser is one simulated, signed-in ChatNest user with an open feed.
type vuser struct {
	name    string
	session *client.SessionStore
	conn    *client.Conn
}

// newRunID tags every account created by one run so reruns never collide.
func newRunID() string {
	return ulid.Make().String()[16:]
}

// connectUser signs up a fresh account, signs in, dials the feed and waits
// for the ready frame.
func connectUser(ctx context.Context, baseURL, runID string, n int, c *loadstats.Collector) (*vuser, error) {
	name := fmt.Sprintf("lt%s%d", runID, n)
	email := name + "@loadtest.chatnest.dev"
	s := client.NewSessionStore(baseURL)

	start := time.Now()
	if _, err := s.SignUp(ctx, email, password, name); err != nil {
		c.AddError("signup")
		return nil, err
	}
	if _, err := s.SignIn(ctx, email, password); err != nil {
		c.AddError("signin")
		return nil, err
	}
	c.AddAuth(time.Since(start))

	start = time.Now()
	conn, err := client.Dial(ctx, s.WebSocketURL())
	if err != nil {
		c.AddError("dial")
		return nil, err
	}
	if err := awaitFrame(ctx, conn, protocol.TypeReady); err != nil {
		c.AddError("ready")
		conn.Close()
		return nil, err
	}
	c.AddConnect(time.Since(start))

	return &vuser{name: name, session: s, conn: conn}, nil
}

func awaitFrame(ctx context.Context, conn *client.Conn, msgType string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-conn.Frames():
			if !ok {
				if err := conn.Err(); err != nil {
					return err
				}
				return fmt.Errorf("connection closed before %s", msgType)
			}
			if f.Type == msgType {
				return nil
			}
		}
	}
}

// close signs the user out and drops the connection.
func (u *vuser) close(ctx context.Context) {
	u.conn.Close()
	u.session.SignOut(ctx)
}

// closeAll tears down users concurrently.
func closeAll(users []*vuser) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u *vuser) {
			defer wg.Done()
			u.close(ctx)
		}(u)
	}
	wg.Wait()
}

// rampUp launches count connectUser calls spread over ramp with at most
// concurrency in flight, printing progress every second.
func rampUp(ctx context.Context, baseURL, runID string, count int, ramp time.Duration, concurrency int, c *loadstats.Collector) []*vuser {
	var (
		mu    sync.Mutex
		users = make([]*vuser, 0, count)
		wg    sync.WaitGroup
		sem   = make(chan struct{}, concurrency)
	)

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		last, lastTime := 0, time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				conns := c.ConnectionCount()
				rate := float64(conns-last) / now.Sub(lastTime).Seconds()
				fmt.Printf("  [ramp] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					conns, count, c.ErrorCount(), rate)
				last, lastTime = conns, now
			case <-progressStop:
				return
			}
		}
	}()

	interval := ramp / time.Duration(count)
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

launch:
	for n := 0; n < count; n++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			break launch
		case <-ticker.C:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(n int) {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()

			u, err := connectUser(connCtx, baseURL, runID, n, c)
			if err != nil {
				return
			}
			mu.Lock()
			users = append(users, u)
			mu.Unlock()
		}(n)
	}

	wg.Wait()
	close(progressStop)
	progressWg.Wait()
	return users
}
